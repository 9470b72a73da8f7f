package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrKeepAliveRunning = errors.New("session: keep-alive already running")

// KeepAlive periodically calls session/keep_alive so an idle session does
// not expire. Failed pings are logged and ignored; the timer keeps going.
type KeepAlive struct {
	invoker  Invoker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newKeepAlive(invoker Invoker, interval time.Duration, logger *zap.Logger) *KeepAlive {
	return &KeepAlive{
		invoker:  invoker,
		interval: interval,
		logger:   logger,
	}
}

// Start begins pinging every interval. Starting a running timer returns
// ErrKeepAliveRunning and leaves the existing timer untouched.
func (k *KeepAlive) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.running {
		return ErrKeepAliveRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.running = true
	k.cancel = cancel
	k.done = make(chan struct{})

	go k.loop(ctx, k.done)

	k.logger.Debug("keep-alive started", zap.Duration("interval", k.interval))
	return nil
}

// Stop halts the timer and waits for an in-flight ping to be abandoned.
// Stopping a timer that is not running is a no-op.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.running = false
	k.cancel()
	done := k.done
	k.mu.Unlock()

	<-done
	k.logger.Debug("keep-alive stopped")
}

// Running reports whether the timer is active.
func (k *KeepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

func (k *KeepAlive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := k.invoker.Call(ctx, MethodKeepAlive, nil); err != nil && ctx.Err() == nil {
				k.logger.Debug("keep-alive failed", zap.Error(err))
			}
		}
	}
}
