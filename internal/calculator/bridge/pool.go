package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Pool owns at most one running Application and counts the leases on it.
type Pool struct {
	mu       sync.Mutex
	launch   Launcher
	app      Application
	refs     int
	gen      uint64
	stopExit func()

	exitHook ExitHook
	newRetry func() backoff.BackOff
	logger   *zap.Logger
}

type PoolOption func(*Pool)

// WithExitHook replaces the signal based process-exit hook. A nil hook
// installs nothing.
func WithExitHook(h ExitHook) PoolOption {
	return func(p *Pool) { p.exitHook = h }
}

// WithRetry sets the backoff policy for starting the application.
func WithRetry(newRetry func() backoff.BackOff) PoolOption {
	return func(p *Pool) { p.newRetry = newRetry }
}

// WithPoolLogger sets the logger. Without it the global zap logger is used.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

func NewPool(launch Launcher, opts ...PoolOption) *Pool {
	p := &Pool{
		launch:   launch,
		exitHook: signalExitHook,
		newRetry: defaultRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultRetry() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(policy, 3)
}

func (p *Pool) log() *zap.Logger {
	if p.logger != nil {
		return p.logger
	}
	return zap.L()
}

// Lease is one reference on the pooled Application.
type Lease struct {
	pool *Pool
	gen  uint64
	app  Application
	once sync.Once
	err  error
}

func (l *Lease) App() Application { return l.app }

// Release drops the reference. The application quits when the last lease is
// released. Calling Release again is a no-op.
func (l *Lease) Release() error {
	l.once.Do(func() { l.err = l.pool.release(l.gen) })
	return l.err
}

// Acquire returns a lease on the running application, starting it first if
// no lease is outstanding.
func (p *Pool) Acquire() (*Lease, error) {
	const operation = "bridge.Acquire"

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.app == nil {
		app, err := p.start()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}
		p.app = app
		p.gen++
		if p.exitHook != nil {
			p.stopExit = p.exitHook(func() {
				if err := p.Shutdown(); err != nil {
					p.log().Error("Failed to quit spreadsheet application on exit", zap.Error(err))
				}
			})
		}
		p.log().Info("Spreadsheet application started")
	}

	p.refs++
	p.log().Debug("Spreadsheet application acquired", zap.Int("refs", p.refs))
	return &Lease{pool: p, gen: p.gen, app: p.app}, nil
}

func (p *Pool) start() (Application, error) {
	var app Application
	err := backoff.RetryNotify(
		func() error {
			a, err := p.launch()
			if errors.Is(err, ErrUnsupportedPlatform) {
				return backoff.Permanent(err)
			}
			if err != nil {
				return err
			}
			app = a
			return nil
		},
		p.newRetry(),
		func(err error, next time.Duration) {
			p.log().Warn("Spreadsheet application failed to start, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", next))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("start application: %w", err)
	}
	return app, nil
}

func (p *Pool) release(gen uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A lease from before a Shutdown no longer counts.
	if gen != p.gen || p.refs == 0 {
		return nil
	}
	p.refs--
	p.log().Debug("Spreadsheet application released", zap.Int("refs", p.refs))
	if p.refs > 0 {
		return nil
	}
	return p.teardown()
}

// Shutdown quits the application regardless of outstanding leases. Leases
// taken before the shutdown become no-ops on Release.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.app == nil {
		return nil
	}
	if p.refs > 0 {
		p.log().Warn("Shutting down spreadsheet application with open engines", zap.Int("refs", p.refs))
	}
	p.refs = 0
	return p.teardown()
}

// SetExitHook replaces the exit hook for applications started from now on.
// Programs that handle signals themselves and call Shutdown on the way out
// pass nil.
func (p *Pool) SetExitHook(h ExitHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitHook = h
}

// Refs reports the number of outstanding leases.
func (p *Pool) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Running reports whether an application is currently started.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app != nil
}

func (p *Pool) teardown() error {
	app := p.app
	p.app = nil
	p.gen++
	if p.stopExit != nil {
		p.stopExit()
		p.stopExit = nil
	}

	if err := app.Quit(); err != nil {
		return fmt.Errorf("bridge: quit application: %w", err)
	}
	p.log().Info("Spreadsheet application stopped")
	return nil
}

var shared = NewPool(platformLauncher)

// SharedPool is the process-wide pool used by engines without an explicit
// pool.
func SharedPool() *Pool { return shared }

// Shutdown quits the process-wide application if it is running.
func Shutdown() error { return shared.Shutdown() }
