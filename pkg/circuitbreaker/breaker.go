package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a probe is allowed.
	OpenTimeout time.Duration
	// IsFailure classifies an error returned by the guarded call; nil treats
	// every non-nil error as a failure.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
	now           func() time.Time
}

// CircuitBreaker lets a single probe through after OpenTimeout; the probe's
// outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures uint32
	openedAt            time.Time
	probing             bool
}

func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			cb.after(false)
			panic(r)
		}
	}()

	err = fn()
	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}
	cb.after(!failed)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch cb.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.probing = false
			cb.setState(StateClosed)
		}
		return
	}

	cb.consecutiveFailures++
	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.setState(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
		}
	}
}

// refresh moves an expired open circuit to half-open. Caller holds mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.setState(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.openedAt = cb.cfg.now()
	}
	if to == StateClosed {
		cb.consecutiveFailures = 0
	}

	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("failures", cb.consecutiveFailures),
	)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
