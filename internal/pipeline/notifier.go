package pipeline

import (
	"context"

	"go.uber.org/zap"
)

const EventBidCandidate = "decision.bid_candidate"

// Notifier delivers pipeline events. Delivery itself lives outside this
// module.
type Notifier interface {
	Fire(ctx context.Context, event string, payload any) error
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Fire(_ context.Context, event string, payload any) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("notification", zap.String("event", event), zap.Any("payload", payload))
	return nil
}
