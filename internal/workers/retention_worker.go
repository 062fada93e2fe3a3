package workers

import (
	"context"
	"errors"
	"time"

	"github.com/carma-ai/carma/internal/repositories"
	"github.com/sirupsen/logrus"
)

// RetentionWorker periodically deletes sessions (and their messages) that
// have seen no activity for MaxAge.
type RetentionWorker struct {
	Sessions repositories.SessionRepository
	MaxAge   time.Duration
	Interval time.Duration

	Logger *logrus.Logger
}

func (w *RetentionWorker) Start(ctx context.Context) error {
	if w.Sessions == nil {
		return errors.New("RetentionWorker missing dependency: Sessions must be set")
	}
	if w.MaxAge <= 0 {
		w.MaxAge = 30 * 24 * time.Hour
	}
	if w.Interval <= 0 {
		w.Interval = time.Hour
	}
	if w.Logger == nil {
		w.Logger = logrus.New()
	}

	go w.run(ctx)
	return nil
}

func (w *RetentionWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.MaxAge)

	n, err := w.Sessions.DeleteOld(ctx, cutoff)
	if err != nil {
		w.Logger.WithError(err).Error("session retention sweep failed")
		return
	}
	if n > 0 {
		w.Logger.WithFields(logrus.Fields{
			"deleted": n,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("session retention sweep")
	}
}
