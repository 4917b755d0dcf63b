package workers

import (
	"context"
	"errors"
	"log/slog"

	"chat-hub/contract"
	"chat-hub/domain"
	errs "chat-hub/errors"
)

// Delivery is one fan-out cycle: a serialized frame and the user ids it
// must reach. Done, when set, is called once the cycle finished.
type Delivery struct {
	Frame      []byte
	Recipients []domain.UserID
	Done       func()
}

// DeliveryWorker drains the delivery queue in accept order. A single
// worker preserves FIFO per chat; pushes are non-blocking enqueues on
// bounded per-connection queues, so one slow recipient cannot stall the
// queue for the others.
type DeliveryWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	jobs     <-chan Delivery
}

func NewDeliveryWorker(log *slog.Logger, registry contract.IRegistry, jobs <-chan Delivery) *DeliveryWorker {
	return &DeliveryWorker{log: log, registry: registry, jobs: jobs}
}

func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker, flushing queued deliveries")
			w.flush()
			return ctx.Err()
		case job, ok := <-w.jobs:
			if !ok {
				return nil
			}
			w.Fanout(job)
		}
	}
}

// flush delivers whatever is still queued when the worker stops. Every
// queued job carries a Done the router waits on during shutdown; leaving
// jobs behind would block that wait forever.
func (w *DeliveryWorker) flush() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.Fanout(job)
		default:
			return
		}
	}
}

// Fanout pushes the frame to every live connection of every recipient.
// Offline recipients are skipped silently. Push failures are logged per
// recipient and never abort delivery to the remaining ones; a saturated
// connection closes itself and takes no further frames.
func (w *DeliveryWorker) Fanout(job Delivery) {
	if job.Done != nil {
		defer job.Done()
	}
	for _, userID := range job.Recipients {
		for _, conn := range w.registry.ConnectionsFor(userID) {
			err := conn.Push(job.Frame)
			switch {
			case err == nil:
			case errors.Is(err, errs.ErrBackpressure):
				w.log.Warn("Recipient connection saturated, forced closed",
					"user", userID, "connection", conn.ID())
			case errors.Is(err, errs.ErrSessionClosed):
				w.log.Debug("Recipient connection already closed",
					"user", userID, "connection", conn.ID())
			default:
				w.log.Warn("Push failed", "user", userID, "connection", conn.ID(), "err", err)
			}
		}
	}
}
