package model

import "time"

const (
	EventOrderCreated = "order.created"
	EventOrderPaid    = "order.paid"
)

// 注文トランザクションの中で書き、リレーがKafkaへ送る。
type OutboxEvent struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string     `gorm:"type:uuid;not null;uniqueIndex" json:"event_id"`
	Type      string     `gorm:"type:varchar(50);not null" json:"type"`
	Key       string     `gorm:"type:varchar(100);not null" json:"key"`
	Payload   string     `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	SentAt    *time.Time `gorm:"index" json:"sent_at"`
}
