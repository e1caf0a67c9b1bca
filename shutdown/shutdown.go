// Package shutdown runs the fleet's phased graceful stop: workers
// first so they stop taking deliveries, then the coordinator so queues
// drain no further, then infrastructure (notifier, telemetry, store).
// Handlers in the same phase stop concurrently; phases run in order.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Common errors.
var (
	ErrTimeout       = errors.New("shutdown timeout exceeded")
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Shutdown phases, lowest stops first.
const (
	PhaseWorkers     = 10
	PhaseCoordinator = 20
	PhaseInfra       = 30
)

// DefaultTimeout bounds a full shutdown when none is given.
const DefaultTimeout = 30 * time.Second

// Handler is implemented by components that need a graceful stop.
// The context is cancelled when the shutdown timeout is reached;
// implementations should stop accepting work, let in-flight work
// finish if time permits, and release resources.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) OnShutdown(ctx context.Context) error { return f(ctx) }

// HandlerResult reports one handler's stop.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Runner executes the phased shutdown sequence exactly once.
type Runner struct {
	// OnProgress, when set, observes each handler as it finishes.
	OnProgress func(HandlerResult)

	mu       sync.Mutex
	handlers []registration

	once    sync.Once
	done    chan struct{}
	err     error
	results []HandlerResult
	signals chan os.Signal
}

type registration struct {
	name    string
	phase   int
	handler Handler
}

// NewRunner creates an empty shutdown runner.
func NewRunner() *Runner {
	return &Runner{
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler at the given phase.
func (r *Runner) Register(name string, phase int, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, registration{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a function handler at the given phase.
func (r *Runner) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	r.Register(name, phase, HandlerFunc(fn))
}

// Shutdown runs every registered handler, phase by phase. Later calls
// return the first run's error. Handler failures do not stop the
// sequence; the aggregate error reports them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.run(ctx)
		close(r.done)
	})
	<-r.done
	return r.err
}

// ShutdownWithTimeout runs Shutdown bounded by the given timeout,
// DefaultTimeout when zero.
func (r *Runner) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Shutdown(ctx)
}

// HandleSignals triggers ShutdownWithTimeout on SIGTERM or SIGINT.
func (r *Runner) HandleSignals(timeout time.Duration) {
	signal.Notify(r.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-r.signals
		r.ShutdownWithTimeout(timeout)
	}()
}

// Trigger injects a synthetic stop signal.
func (r *Runner) Trigger() {
	select {
	case r.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once shutdown completes.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Err returns the shutdown error, nil before Done is closed.
func (r *Runner) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Results returns per-handler outcomes, nil before Done is closed.
func (r *Runner) Results() []HandlerResult {
	select {
	case <-r.done:
		return r.results
	default:
		return nil
	}
}

func (r *Runner) run(ctx context.Context) error {
	r.mu.Lock()
	handlers := make([]registration, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var overall error
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			if overall == nil {
				overall = ErrTimeout
			}
			return overall
		default:
		}

		for _, hr := range r.runPhase(ctx, group) {
			r.results = append(r.results, hr)
			if hr.Err != nil && overall == nil {
				overall = ErrHandlerFailed
			}
		}
	}
	return overall
}

// runPhase stops every handler of one phase concurrently.
func (r *Runner) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup
	for i, reg := range group {
		wg.Add(1)
		go func(idx int, reg registration) {
			defer wg.Done()
			start := time.Now()
			err := reg.handler.OnShutdown(ctx)
			hr := HandlerResult{
				Name:     reg.name,
				Phase:    reg.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr
			if r.OnProgress != nil {
				r.OnProgress(hr)
			}
		}(i, reg)
	}
	wg.Wait()
	return results
}

func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for _, h := range handlers {
		if n := len(groups); n > 0 && groups[n-1][0].phase == h.phase {
			groups[n-1] = append(groups[n-1], h)
			continue
		}
		groups = append(groups, []registration{h})
	}
	return groups
}
