package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionExpiryWorker periodically sweeps the last-access index and merges
// stale sessions back into their profiles.
type SessionExpiryWorker struct {
	sessions *SessionService
	interval time.Duration
	logger   *logrus.Logger
	metrics  *EngineMetrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSessionExpiryWorker(sessions *SessionService, interval time.Duration, logger *logrus.Logger) *SessionExpiryWorker {
	return &SessionExpiryWorker{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (w *SessionExpiryWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()

	w.logger.WithField("interval", w.interval).Info("Session expiry worker started")
}

// Stop finishes the current batch before returning.
func (w *SessionExpiryWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("Session expiry worker stopped")
}

func (w *SessionExpiryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	expired := w.sessions.ExpireStale(ctx)
	if w.metrics != nil && expired > 0 {
		w.metrics.SessionsExpired.Add(float64(expired))
	}
}
