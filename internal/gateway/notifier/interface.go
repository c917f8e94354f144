package notifier

import "context"

// TextNotifier defines a minimal text notification interface.
// Components depend on it without importing concrete channels (Slack, Telegram).
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Func adapts a plain function to TextNotifier.
type Func func(ctx context.Context, text string) error

func (f Func) SendText(ctx context.Context, text string) error {
	return f(ctx, text)
}
