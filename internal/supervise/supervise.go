// Package supervise starts, health-checks, and stops the sqlscout
// services as independent long-running processes. Start returns as
// soon as the process is spawned; readiness is reported
// asynchronously through the event channel once health polling
// succeeds.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sqlscout/sqlscout/internal/observability"
)

type State int

const (
	Stopped State = iota
	Starting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ServiceSpec describes one managed service.
type ServiceSpec struct {
	Name      string
	Command   string
	Args      []string
	Env       []string
	HealthURL string
}

// Handle is a point-in-time snapshot of one managed service.
type Handle struct {
	Name  string
	State State
	Err   error
}

// Event reports a state transition. Err is set for Failed.
type Event struct {
	Service string
	State   State
	Err     error
}

// Process is a spawned service process.
type Process interface {
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill force-stops the process.
	Kill() error
	// Wait blocks until the process exits. Safe to call more than
	// once.
	Wait() error
}

// Launcher spawns processes. The exec-backed implementation lives in
// exec.go; tests substitute a fake.
type Launcher interface {
	Launch(spec ServiceSpec) (Process, error)
}

// HealthCheck probes one service. The default implementation does an
// HTTP GET against the service's health URL.
type HealthCheck func(ctx context.Context, url string) error

type Options struct {
	Launcher Launcher
	Health   HealthCheck
	Logger   *slog.Logger
	// PollInterval separates health attempts; PollAttempts bounds
	// them; PollTimeout applies per attempt.
	PollInterval time.Duration
	PollAttempts int
	PollTimeout  time.Duration
	// StopGrace is how long Stop waits after Terminate before
	// killing.
	StopGrace time.Duration
}

type Supervisor struct {
	launcher     Launcher
	health       HealthCheck
	logger       *slog.Logger
	pollInterval time.Duration
	pollAttempts int
	pollTimeout  time.Duration
	stopGrace    time.Duration

	events chan Event

	mu       sync.Mutex
	services map[string]*handle
}

// handle is the per-service record. Its mutex serializes start and
// stop for that service; health polling runs outside the lock and
// re-checks state before publishing a transition.
type handle struct {
	mu         sync.Mutex
	spec       ServiceSpec
	state      State
	proc       Process
	lastErr    error
	cancelPoll context.CancelFunc
}

func New(opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = NewExecLauncher()
	}
	if opts.Health == nil {
		opts.Health = httpHealthCheck
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 20
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 3 * time.Second
	}
	return &Supervisor{
		launcher:     opts.Launcher,
		health:       opts.Health,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
		pollTimeout:  opts.PollTimeout,
		stopGrace:    opts.StopGrace,
		events:       make(chan Event, 32),
		services:     make(map[string]*handle),
	}
}

// Events is the notification channel. Events are dropped rather than
// blocking a state transition when no one is draining the channel.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *Supervisor) handleFor(spec ServiceSpec) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.services[spec.Name]
	if !ok {
		h = &handle{spec: spec, state: Stopped}
		s.services[spec.Name] = h
	}
	return h
}

// Start spawns the service and begins health polling. Starting a
// service that is already Starting or Ready returns the current
// state without spawning a second process.
func (s *Supervisor) Start(spec ServiceSpec) (State, error) {
	h := s.handleFor(spec)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Starting || h.state == Ready {
		return h.state, nil
	}

	proc, err := s.launcher.Launch(spec)
	if err != nil {
		h.state = Failed
		h.lastErr = fmt.Errorf("spawn %s: %w", spec.Name, err)
		s.emit(Event{Service: spec.Name, State: Failed, Err: h.lastErr})
		return Failed, h.lastErr
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	h.spec = spec
	h.proc = proc
	h.state = Starting
	h.lastErr = nil
	h.cancelPoll = cancel
	s.emit(Event{Service: spec.Name, State: Starting})
	if s.logger != nil {
		s.logger.Info("service_starting", "service", spec.Name, "command", spec.Command)
	}

	go s.poll(pollCtx, h, spec)
	return Starting, nil
}

// poll drives Starting to Ready or Failed. It never blocks the
// caller that requested the start.
func (s *Supervisor) poll(ctx context.Context, h *handle, spec ServiceSpec) {
	var lastErr error
	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
		err := s.health(attemptCtx, spec.HealthURL)
		cancel()
		observability.ObserveHealthPoll(spec.Name, err == nil)

		if err == nil {
			h.mu.Lock()
			if h.state == Starting {
				h.state = Ready
				s.emit(Event{Service: spec.Name, State: Ready})
				if s.logger != nil {
					s.logger.Info("service_ready", "service", spec.Name)
				}
			}
			h.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
	}

	h.mu.Lock()
	if h.state == Starting {
		h.state = Failed
		h.lastErr = fmt.Errorf("health check for %s exhausted %d attempts: %w", spec.Name, s.pollAttempts, lastErr)
		s.emit(Event{Service: spec.Name, State: Failed, Err: h.lastErr})
		if s.logger != nil {
			s.logger.Error("service_failed", "service", spec.Name, "error", h.lastErr.Error())
		}
	}
	h.mu.Unlock()
}

// Stop terminates the service and always leaves it Stopped, even if
// the process already exited or never became Ready. Stopping a
// Stopped service is a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	h, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancelPoll != nil {
		h.cancelPoll()
		h.cancelPoll = nil
	}
	if h.state == Stopped {
		return nil
	}

	proc := h.proc
	h.proc = nil
	h.state = Stopped
	s.emit(Event{Service: name, State: Stopped})
	if proc == nil {
		return nil
	}

	_ = proc.Terminate()

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case <-done:
	case <-time.After(s.stopGrace):
		_ = proc.Kill()
		<-done
	}
	if s.logger != nil {
		s.logger.Info("service_stopped", "service", name)
	}
	return nil
}

// StopAll stops every known service.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		_ = s.Stop(name)
	}
}

// Status reports the current state of a service. Unknown services
// are Stopped.
func (s *Supervisor) Status(name string) State {
	s.mu.Lock()
	h, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return Stopped
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Handles snapshots every known service.
func (s *Supervisor) Handles() []Handle {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.services))
	names := make([]string, 0, len(s.services))
	for name, h := range s.services {
		handles = append(handles, h)
		names = append(names, name)
	}
	s.mu.Unlock()

	out := make([]Handle, len(handles))
	for i, h := range handles {
		h.mu.Lock()
		out[i] = Handle{Name: names[i], State: h.state, Err: h.lastErr}
		h.mu.Unlock()
	}
	return out
}

// Err returns the last recorded failure for a service, if any.
func (s *Supervisor) Err(name string) error {
	s.mu.Lock()
	h, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// AwaitReady blocks until the service reaches Ready, fails, is
// stopped, or the context ends.
func (s *Supervisor) AwaitReady(ctx context.Context, name string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch s.Status(name) {
		case Ready:
			return nil
		case Failed:
			if err := s.Err(name); err != nil {
				return err
			}
			return fmt.Errorf("service %s failed", name)
		case Stopped:
			return fmt.Errorf("service %s is stopped", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func httpHealthCheck(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("no health URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
