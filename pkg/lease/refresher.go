package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultCheckInterval is how often the refresher polls ShouldRefresh.
	DefaultCheckInterval = 60 * time.Second

	// DefaultStopTimeout bounds how long Close waits for the loop to exit.
	DefaultStopTimeout = 5 * time.Second
)

// BackgroundRefresher refreshes a Manager's credentials from its own
// goroutine before foreground callers need them.
type BackgroundRefresher[C any] struct {
	manager     *Manager[C]
	interval    time.Duration
	stopTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// RefresherOption configures a BackgroundRefresher.
type RefresherOption func(*refresherOptions)

type refresherOptions struct {
	stopTimeout time.Duration
}

// WithStopTimeout sets how long Close waits for the loop before closing the
// manager anyway.
func WithStopTimeout(d time.Duration) RefresherOption {
	return func(o *refresherOptions) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// StartBackgroundRefresher starts polling m every interval until ctx is
// cancelled or Close is called. A non-positive interval means
// DefaultCheckInterval.
func StartBackgroundRefresher[C any](ctx context.Context, m *Manager[C], interval time.Duration, opts ...RefresherOption) *BackgroundRefresher[C] {
	o := refresherOptions{stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &BackgroundRefresher[C]{
		manager:     m,
		interval:    interval,
		stopTimeout: o.stopTimeout,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go r.run(loopCtx)
	m.cfg.Logger.Info("Background credential refresh started for role %s (interval %s)", m.Role(), interval)

	return r
}

// Manager returns the wrapped manager.
func (r *BackgroundRefresher[C]) Manager() *Manager[C] {
	return r.manager
}

// WithConnection delegates to the wrapped manager.
func (r *BackgroundRefresher[C]) WithConnection(ctx context.Context, fn func(C) error, opts ...ConnOption) error {
	return r.manager.WithConnection(ctx, fn, opts...)
}

func (r *BackgroundRefresher[C]) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *BackgroundRefresher[C]) tick(ctx context.Context) {
	if !r.manager.ShouldRefresh() {
		return
	}

	log := r.manager.cfg.Logger
	log.Debug("Background refresh due for role %s", r.manager.Role())

	if _, err := r.manager.refreshIfDue(ctx); err != nil {
		if errors.Is(err, ErrClosing) || ctx.Err() != nil {
			return
		}
		log.Error("Background refresh failed for role %s: %v", r.manager.Role(), err)
	}
}

// Close stops the loop, waits up to the stop timeout for it to exit and then
// closes the manager.
func (r *BackgroundRefresher[C]) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()

		timer := time.NewTimer(r.stopTimeout)
		defer timer.Stop()

		select {
		case <-r.done:
		case <-timer.C:
			r.manager.cfg.Logger.Warn("Background refresh for role %s did not stop within %s", r.manager.Role(), r.stopTimeout)
		}

		r.closeErr = r.manager.Close()
	})
	return r.closeErr
}

// Done is closed when the refresh loop has exited.
func (r *BackgroundRefresher[C]) Done() <-chan struct{} {
	return r.done
}
