package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopapi/internal/domain/model"
	"shopapi/internal/repository/memrepo"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, msgs ...Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func putEvents(t *testing.T, s *memrepo.Store, n int) {
	t.Helper()
	outbox := s.Repos().Outbox()
	for i := 0; i < n; i++ {
		require.NoError(t, outbox.Create(context.Background(), model.OutboxEvent{
			EventID: "ev-" + string(rune('a'+i)),
			Type:    model.EventOrderCreated,
			Key:     "1",
			Payload: `{"order_id":1}`,
		}))
	}
}

func pending(s *memrepo.Store) int {
	n := 0
	for _, ev := range s.OutboxEvents() {
		if ev.SentAt == nil {
			n++
		}
	}
	return n
}

func TestOutboxRelay_Flush(t *testing.T) {
	ctx := context.Background()
	s := memrepo.New()
	putEvents(t, s, 2)

	pub := new(PublisherMock)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msgs []Message) bool {
		return len(msgs) == 2 &&
			msgs[0].Key == "1" &&
			msgs[0].Headers["event_id"] == "ev-a" &&
			msgs[0].Headers["event_type"] == model.EventOrderCreated &&
			string(msgs[0].Value) == `{"order_id":1}`
	})).Return(nil).Once()

	relay := NewOutboxRelay(s.TxManager(), pub, time.Second, zerolog.Nop())

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, pending(s))

	// 送信済みは二度送らない
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pub.AssertExpectations(t)
}

func TestOutboxRelay_Flush_PublishFailureKeepsPending(t *testing.T) {
	s := memrepo.New()
	putEvents(t, s, 3)

	pub := new(PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	relay := NewOutboxRelay(s.TxManager(), pub, time.Second, zerolog.Nop())
	n, err := relay.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, pending(s))
}

func TestOutboxRelay_Run(t *testing.T) {
	s := memrepo.New()
	putEvents(t, s, 1)

	pub := new(PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	relay := NewOutboxRelay(s.TxManager(), pub, 10*time.Millisecond, zerolog.Nop())
	go func() { done <- relay.Run(ctx) }()

	assert.Eventually(t, func() bool { return pending(s) == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestToKafkaMessages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := toKafkaMessages([]Message{{
		Key:     "42",
		Value:   []byte(`{}`),
		Headers: map[string]string{"event_type": "order.paid", "event_id": "x"},
	}}, now)

	require.Len(t, out, 1)
	assert.Equal(t, []byte("42"), out[0].Key)
	assert.Equal(t, now, out[0].Time)
	assert.Equal(t, []kafka.Header{
		{Key: "event_id", Value: []byte("x")},
		{Key: "event_type", Value: []byte("order.paid")},
	}, out[0].Headers)
}
