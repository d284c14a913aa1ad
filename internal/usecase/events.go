package usecase

import (
	"encoding/json"
	"strconv"
	"time"

	"shopapi/internal/domain/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderEventItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// outbox_events.payload の中身
type OrderEvent struct {
	EventID     string           `json:"event_id"`
	Type        string           `json:"type"`
	OrderID     int64            `json:"order_id"`
	UserID      string           `json:"user_id"`
	Status      string           `json:"status"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Items       []OrderEventItem `json:"items,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

func newOrderOutboxEvent(typ string, o model.Order, items []model.OrderItem, at time.Time) (model.OutboxEvent, error) {
	ev := OrderEvent{
		EventID:     uuid.NewString(),
		Type:        typ,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		OccurredAt:  at.UTC(),
	}
	for _, it := range items {
		ev.Items = append(ev.Items, OrderEventItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return model.OutboxEvent{}, err
	}
	return model.OutboxEvent{
		EventID: ev.EventID,
		Type:    typ,
		// 同じ注文のイベントは同じパーティションへ
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: string(payload),
	}, nil
}
