package lease_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/systmms/leasekeeper/pkg/lease"
	"github.com/systmms/leasekeeper/pkg/provider"
)

var (
	errPoolDrained = errors.New("pool drained")
	errBrokenConn  = errors.New("server closed the connection unexpectedly")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeConn struct {
	pool *fakePool
	id   int
}

type fakePool struct {
	id    int
	creds provider.Credentials

	mu              sync.Mutex
	failValidations int
	checkoutErr     error
	drainErr        error
	lastQuery       string

	checkouts   int
	releases    int
	validations int
	drains      int
	drained     bool
}

func (p *fakePool) Checkout(ctx context.Context) (*fakeConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.drained {
		return nil, errPoolDrained
	}
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	p.checkouts++
	return &fakeConn{pool: p, id: p.checkouts}, nil
}

func (p *fakePool) Release(conn *fakeConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
}

func (p *fakePool) Validate(ctx context.Context, conn *fakeConn, query string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.validations++
	p.lastQuery = query
	if p.failValidations > 0 {
		p.failValidations--
		return errBrokenConn
	}
	return nil
}

func (p *fakePool) DrainAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drains++
	p.drained = true
	return p.drainErr
}

type poolCounts struct {
	checkouts, releases, validations, drains int
}

func (p *fakePool) counts() poolCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return poolCounts{p.checkouts, p.releases, p.validations, p.drains}
}

type fakeFactory struct {
	mu         sync.Mutex
	pools      []*fakePool
	errs       []error
	configure  func(n int, p *fakePool)
	lastConfig lease.PoolConfig
}

func (f *fakeFactory) Build(ctx context.Context, cfg lease.PoolConfig, creds provider.Credentials) (lease.Pool[*fakeConn], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	p := &fakePool{id: len(f.pools) + 1, creds: creds}
	if f.configure != nil {
		f.configure(p.id, p)
	}
	f.pools = append(f.pools, p)
	f.lastConfig = cfg
	return p, nil
}

func (f *fakeFactory) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

func (f *fakeFactory) Pool(n int) *fakePool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pools[n-1]
}

func (f *fakeFactory) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...interface{}) { l.log("DEBUG", format, args...) }
func (l *recordingLogger) Info(format string, args ...interface{})  { l.log("INFO", format, args...) }
func (l *recordingLogger) Warn(format string, args ...interface{})  { l.log("WARN", format, args...) }
func (l *recordingLogger) Error(format string, args ...interface{}) { l.log("ERROR", format, args...) }

func (l *recordingLogger) has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type countingRecorder struct {
	mu                 sync.Mutex
	succeeded, failed  int
	validationFailures int
	drainFailures      int
	lastExpiresAt      time.Time
}

func (r *countingRecorder) RefreshSucceeded(role string, took time.Duration, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded++
	r.lastExpiresAt = expiresAt
}

func (r *countingRecorder) RefreshFailed(role string, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *countingRecorder) ValidationFailed(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validationFailures++
}

func (r *countingRecorder) DrainFailed(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainFailures++
}

type recorderCounts struct {
	succeeded, failed  int
	validationFailures int
	drainFailures      int
	lastExpiresAt      time.Time
}

func (r *countingRecorder) snapshot() recorderCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorderCounts{
		succeeded:          r.succeeded,
		failed:             r.failed,
		validationFailures: r.validationFailures,
		drainFailures:      r.drainFailures,
		lastExpiresAt:      r.lastExpiresAt,
	}
}

// blockingProvider ignores ctx and waits for release on every fetch after
// the first.
type blockingProvider struct {
	inner   *provider.FakeCredentialProvider
	mu      sync.Mutex
	fetches int
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider(d time.Duration) *blockingProvider {
	return &blockingProvider{
		inner:   provider.NewFakeCredentialProvider(d),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) FetchCredentials(ctx context.Context, role string) (provider.Credentials, error) {
	b.mu.Lock()
	b.fetches++
	n := b.fetches
	b.mu.Unlock()

	if n > 1 {
		select {
		case b.started <- struct{}{}:
		default:
		}
		<-b.release
	}
	return b.inner.FetchCredentials(context.Background(), role)
}

type harness struct {
	clock    *fakeClock
	provider *provider.FakeCredentialProvider
	factory  *fakeFactory
	logger   *recordingLogger
	metrics  *countingRecorder
}

func newHarness(leaseDuration time.Duration) *harness {
	return &harness{
		clock:    newFakeClock(),
		provider: provider.NewFakeCredentialProvider(leaseDuration),
		factory:  &fakeFactory{},
		logger:   &recordingLogger{},
		metrics:  &countingRecorder{},
	}
}

func (h *harness) config() lease.Config[*fakeConn] {
	return lease.Config[*fakeConn]{
		Role:       "orders-rw",
		Provider:   h.provider,
		Factory:    h.factory,
		PoolConfig: lease.PoolConfig{"host": "db.internal", "database": "orders"},
		Logger:     h.logger,
		Metrics:    h.metrics,
		Clock:      h.clock.Now,
	}
}
