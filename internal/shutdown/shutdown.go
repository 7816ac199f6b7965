package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
)

// Phase orders shutdown work. Lower phases finish before higher ones
// start; hooks within one phase run in parallel.
type Phase int

const (
	// PhaseDrain stops accepting work and lets in-flight requests finish
	PhaseDrain Phase = iota
	// PhaseStop stops background loops such as the session janitor
	PhaseStop
	// PhaseFlush flushes telemetry
	PhaseFlush
)

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type hook struct {
	name  string
	phase Phase
	fn    ShutdownFunc
}

// Manager handles graceful shutdown of the application
type Manager struct {
	logger       *logging.Logger
	timeout      time.Duration
	mu           sync.Mutex
	hooks        []hook
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	gracefulDone chan struct{}
	err          error
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Manager{
		logger:       logger.WithComponent("shutdown"),
		timeout:      cfg.Timeout,
		shutdownCh:   make(chan struct{}),
		gracefulDone: make(chan struct{}),
	}
}

// Register adds a named shutdown hook to a phase
func (m *Manager) Register(name string, phase Phase, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("hook", name).Int("phase", int(phase)).Msg("Registered shutdown hook")
	m.hooks = append(m.hooks, hook{name: name, phase: phase, fn: fn})
}

// WaitForSignal blocks until a shutdown signal arrives, ctx ends or
// Shutdown is called, then shuts down
func (m *Manager) WaitForSignal(ctx context.Context, signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
	case <-ctx.Done():
		m.logger.Info().Msg("Context done, shutting down")
	case <-m.shutdownCh:
	}
	m.Shutdown()
}

// Shutdown runs every hook phase by phase, once. It returns the joined
// hook errors, or a timeout error if the whole run exceeded the timeout.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.err = m.performShutdown()
		close(m.gracefulDone)
	})
	<-m.gracefulDone
	return m.err
}

func (m *Manager) performShutdown() error {
	m.mu.Lock()
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].phase < hooks[j].phase })

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("hooks", len(hooks)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for start := 0; start < len(hooks); {
		end := start
		for end < len(hooks) && hooks[end].phase == hooks[start].phase {
			end++
		}

		if err := m.runPhase(ctx, hooks[start:end]); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			m.logger.Warn().
				Dur("timeout", m.timeout).
				Msg("Graceful shutdown timed out, forcing exit")
			return errors.Join(append(errs, fmt.Errorf("shutdown timed out after %v", m.timeout))...)
		}
		start = end
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}
	m.logger.Info().Msg("Graceful shutdown completed successfully")
	return nil
}

// runPhase runs hooks in parallel and waits for them or ctx
func (m *Manager) runPhase(ctx context.Context, hooks []hook) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(hooks))

	for _, h := range hooks {
		wg.Add(1)
		go func(h hook) {
			defer wg.Done()

			if err := h.fn(ctx); err != nil {
				m.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
				errCh <- fmt.Errorf("%s: %w", h.name, err)
				return
			}
			m.logger.Debug().Str("hook", h.name).Msg("Shutdown hook completed")
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil
	}

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}
