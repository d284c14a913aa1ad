package messaging

import (
	"context"
	"time"

	"shopapi/internal/repository"

	"github.com/rs/zerolog"
)

// Publisher はリレーの送信先（本番はKafka）
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// OutboxRelay はoutbox_eventsの未送信行を定期的に送って、送れたものに印を付ける。
type OutboxRelay struct {
	tx        repository.TransactionManager
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

func NewOutboxRelay(tx repository.TransactionManager, publisher Publisher, interval time.Duration, log zerolog.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxRelay{
		tx:        tx,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
		log:       log.With().Str("component", "outbox_relay").Logger(),
	}
}

// Run はctxが終わるまで回る
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopped")
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error().Err(err).Msg("outbox flush failed")
				continue
			}
			if n > 0 {
				r.log.Debug().Int("sent", n).Msg("outbox flushed")
			}
		}
	}
}

// Flush は1バッチ分を送る。送れなければ何も印を付けずに次回やり直す。
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	sent := 0
	err := r.tx.WithinTx(ctx, func(repos repository.TxRepos) error {
		events, err := repos.Outbox().FetchPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		msgs := make([]Message, 0, len(events))
		ids := make([]int64, 0, len(events))
		for _, ev := range events {
			msgs = append(msgs, Message{
				Key:   ev.Key,
				Value: []byte(ev.Payload),
				Headers: map[string]string{
					"event_id":   ev.EventID,
					"event_type": ev.Type,
				},
			})
			ids = append(ids, ev.ID)
		}

		if err := r.publisher.Publish(ctx, msgs...); err != nil {
			return err
		}
		if err := repos.Outbox().MarkSent(ctx, ids, time.Now()); err != nil {
			return err
		}
		sent = len(ids)
		return nil
	})
	return sent, err
}
