package usecase

import (
	"context"
	"time"
)

// 現在の時間
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock はtime.Nowを返す
var SystemClock Clock = ClockFunc(time.Now)

// 冪等キーの保存先（Redis）。scopeはユーザーID。
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}
