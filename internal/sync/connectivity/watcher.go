package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the watcher's view of server reachability.
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	}
	return "unknown"
}

// Prober answers one liveness probe against the server.
type Prober interface {
	Health(ctx context.Context) error
}

// Config wires the watcher.
type Config struct {
	Prober   Prober
	Logger   *zap.Logger
	Clock    func() time.Time
	Interval time.Duration
	// Settling delays the reconnect callback so a flapping link has to
	// hold before a sync is triggered.
	Settling  time.Duration
	OnOnline  func(ctx context.Context)
	OnOffline func()
}

const (
	defaultInterval = 30 * time.Second
	defaultSettling = time.Second
)

// Watcher polls server health on a fixed cadence and reports transitions.
// Probes are rate limited so external Poke calls cannot turn the health
// endpoint into a hot loop.
type Watcher struct {
	prober    Prober
	logger    *zap.Logger
	clock     func() time.Time
	interval  time.Duration
	settling  time.Duration
	onOnline  func(ctx context.Context)
	onOffline func()
	limiter   *rate.Limiter
	poke      chan struct{}

	mu    sync.RWMutex
	state State
}

// NewWatcher validates the configuration and returns a stopped Watcher;
// call Run to start probing.
func NewWatcher(cfg Config) (*Watcher, error) {
	if cfg.Prober == nil {
		return nil, errors.New("connectivity: prober is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	settling := cfg.Settling
	if settling < 0 {
		settling = defaultSettling
	}
	return &Watcher{
		prober:    cfg.Prober,
		logger:    logger,
		clock:     clock,
		interval:  interval,
		settling:  settling,
		onOnline:  cfg.OnOnline,
		onOffline: cfg.OnOffline,
		limiter:   rate.NewLimiter(rate.Every(interval/2), 1),
		poke:      make(chan struct{}, 1),
	}, nil
}

// State returns the last observed reachability.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Online reports whether the server answered the last probe.
func (w *Watcher) Online() bool { return w.State() == StateOnline }

// Poke requests an immediate probe, subject to the rate limit. Callers
// use it after a request-level transport failure instead of waiting out
// the probe interval.
func (w *Watcher) Poke() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

// Run probes until the context is cancelled. The first probe fires
// immediately so callers learn the initial state without waiting a full
// interval.
func (w *Watcher) Run(ctx context.Context) {
	w.probe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		case <-w.poke:
			if w.limiter.Allow() {
				w.probe(ctx)
			}
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	err := w.prober.Health(ctx)
	if ctx.Err() != nil {
		return
	}

	next := StateOnline
	if err != nil {
		next = StateOffline
	}

	w.mu.Lock()
	previous := w.state
	w.state = next
	w.mu.Unlock()

	if previous == next {
		return
	}
	w.logger.Info("connectivity changed",
		zap.String("from", previous.String()),
		zap.String("to", next.String()))

	switch next {
	case StateOnline:
		if w.onOnline == nil {
			return
		}
		if w.settling > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.settling):
			}
			// The link must still be up after settling; a flap back to
			// offline cancels the callback and reports the offline
			// transition the flap produced.
			if w.prober.Health(ctx) != nil {
				w.mu.Lock()
				w.state = StateOffline
				w.mu.Unlock()
				if previous != StateOffline && w.onOffline != nil {
					w.onOffline()
				}
				return
			}
		}
		w.onOnline(ctx)
	case StateOffline:
		if w.onOffline != nil {
			w.onOffline()
		}
	}
}
