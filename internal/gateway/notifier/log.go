package notifier

import (
	"context"

	"riskwatch/internal/logger"
)

// Log writes notifications to the service log; used when no channel is configured.
type Log struct {
	Channel string
}

func (l Log) SendText(_ context.Context, text string) error {
	logger.With("channel", l.Channel).Infof("notification:\n%s", text)
	return nil
}
