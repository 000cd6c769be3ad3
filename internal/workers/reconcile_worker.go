package workers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler resubmits parked submissions.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (delivered, failed int, err error)
}

// ReconcileWorker drains the submission outbox on a fixed interval.
type ReconcileWorker struct {
	Submitter Reconciler
	Interval  time.Duration
	BatchSize int
	Logger    *logrus.Logger

	// Purge, when set, runs after each pass to drop old delivered rows.
	Purge func(ctx context.Context) (int64, error)
}

func (w *ReconcileWorker) Start(ctx context.Context) error {
	if w.Submitter == nil {
		return errors.New("ReconcileWorker missing dependency: Submitter must be set")
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 50
	}
	if w.Logger == nil {
		w.Logger = logrus.New()
	}
	go w.loop(ctx)
	return nil
}

func (w *ReconcileWorker) loop(ctx context.Context) {
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one reconciliation pass.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (delivered, failed int) {
	delivered, failed, err := w.Submitter.Reconcile(ctx, w.BatchSize)
	log := w.Logger.WithFields(logrus.Fields{"delivered": delivered, "failed": failed})
	if err != nil {
		log.WithError(err).Warn("outbox reconcile failed")
	} else if delivered+failed > 0 {
		log.Info("outbox reconciled")
	}
	if w.Purge != nil {
		if n, err := w.Purge(ctx); err != nil {
			w.Logger.WithError(err).Warn("outbox purge failed")
		} else if n > 0 {
			w.Logger.WithField("purged", n).Debug("outbox purged")
		}
	}
	return delivered, failed
}
