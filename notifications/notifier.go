package notifications

import (
	"context"

	"go.uber.org/zap"
)

type Message struct {
	ToName  string
	ToEmail string
	Subject string
	HTML    string
}

// Notifier delivers one message. Delivery internals belong to the provider.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier only logs, for environments without an email provider.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	n.Log.Info("notification",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject))
	return nil
}
