// Package alerts turns state machine transitions and UPS events into
// grouped operator notifications: popup frames, email and Telegram
// messages, plus the scheduled recap digest.
package alerts

import "context"

//go:generate mockgen -destination=mock_notifier.go -package=alerts github.com/creker7/netvigil/pkg/alerts Notifier

// Notifier delivers one grouped message over one channel. Implementations
// are called from dispatch goroutines and must be safe for concurrent use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, subject, body string) error
}

// Broadcaster pushes popup notifications to connected operator sessions.
// The web layer's WebSocket hub implements it.
type Broadcaster interface {
	Notification(text string)
}
