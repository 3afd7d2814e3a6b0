package worker

import (
	"context"
	"time"

	"payment-service/internal/service"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// PollWorker periodically sweeps unsettled trades whose webhooks or redirects
// never arrived and settles them from processor-side state.
type PollWorker struct {
	reconciler *service.Reconciler
	interval   time.Duration
	lookback   time.Duration
	logger     *zap.Logger
	stop       chan struct{}
	done       chan struct{}
}

// NewPollWorker creates a new poll worker.
func NewPollWorker(reconciler *service.Reconciler, interval, lookback time.Duration) *PollWorker {
	return &PollWorker{
		reconciler: reconciler,
		interval:   interval,
		lookback:   lookback,
		logger:     util.GetLogger(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the poll loop until the context is cancelled or Stop is called.
// The first sweep runs one full interval after startup so a restart storm
// doesn't hammer the processor.
func (w *PollWorker) Start(ctx context.Context) {
	w.logger.Info("Starting poll worker",
		zap.Duration("interval", w.interval),
		zap.Duration("lookback", w.lookback))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Poll worker context cancelled")
			return
		case <-w.stop:
			w.logger.Info("Poll worker stopped")
			return
		case <-ticker.C:
			if err := w.reconciler.PollOnce(ctx, w.lookback); err != nil {
				w.logger.Error("Poll sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
func (w *PollWorker) Stop() {
	close(w.stop)
	<-w.done
}
