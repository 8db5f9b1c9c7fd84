package quotefeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DemoAdvisory is shown when the whole snapshot is synthetic.
const DemoAdvisory = "Using demo data - API may be unavailable"

// DefaultRefreshInterval is how often the poller refreshes on its own.
const DefaultRefreshInterval = 30 * time.Second

// State is the dashboard's view of the latest refresh cycle.
type State struct {
	Quotes       Snapshot  `json:"quotes"`
	UsedFallback bool      `json:"usedFallback"`
	Advisory     string    `json:"advisory,omitempty"`
	Loading      bool      `json:"loading"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Cycle        string    `json:"cycle,omitempty"`
}

// Listener is called with every newly published state.
type Listener func(ctx context.Context, s State)

// Poller refreshes a fixed symbol list on a timer and on demand, and holds
// the last published State.
//
// Refreshes requested while one is in flight join that cycle and get its
// result instead of starting another.
type Poller struct {
	feed      *Feed
	symbols   []string
	interval  time.Duration
	log       *slog.Logger
	onRefresh func(time.Duration)
	listeners []Listener

	group singleflight.Group

	mu    sync.RWMutex
	state State
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides DefaultRefreshInterval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithListener registers fn to receive each published state.
func WithListener(fn Listener) PollerOption {
	return func(p *Poller) { p.listeners = append(p.listeners, fn) }
}

// WithLogger sets the poller's logger.
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// WithCycleObserver is called with each completed cycle's duration.
func WithCycleObserver(fn func(time.Duration)) PollerOption {
	return func(p *Poller) { p.onRefresh = fn }
}

// NewPoller returns a poller for symbols. It does nothing until Run or
// Refresh is called.
func NewPoller(feed *Feed, symbols []string, opts ...PollerOption) *Poller {
	p := &Poller{
		feed:     feed,
		symbols:  append([]string(nil), symbols...),
		interval: DefaultRefreshInterval,
		log:      slog.Default(),
		state:    State{Loading: true},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Symbols returns the poller's watch list.
func (p *Poller) Symbols() []string { return append([]string(nil), p.symbols...) }

// State returns the last published state.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.Quotes = append(Snapshot(nil), p.state.Quotes...)
	return s
}

// Run refreshes immediately and then on every tick until ctx is done.
// The ticker is stopped on return.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh runs a fetch cycle, or joins the one already in flight, and
// returns the resulting state.
func (p *Poller) Refresh(ctx context.Context) State {
	v, _, shared := p.group.Do("refresh", func() (any, error) {
		return p.cycle(ctx), nil
	})
	if shared {
		p.log.Debug("refresh joined in-flight cycle")
	}
	return v.(State)
}

func (p *Poller) cycle(ctx context.Context) State {
	start := time.Now()
	id := uuid.NewString()
	log := p.log.With("cycle", id)

	p.mu.Lock()
	p.state.Loading = true
	p.mu.Unlock()

	snap, fallback := p.feed.FetchSnapshotWithFallback(ctx, p.symbols)
	if err := ctx.Err(); err != nil {
		// torn down mid-cycle: keep what was published last
		log.Info("refresh abandoned", "error", err)
		p.mu.Lock()
		p.state.Loading = false
		s := p.state
		p.mu.Unlock()
		return s
	}

	next := State{
		Quotes:       snap,
		UsedFallback: fallback,
		UpdatedAt:    time.Now().UTC(),
		Cycle:        id,
	}
	if fallback {
		next.Advisory = DemoAdvisory
	}

	p.mu.Lock()
	p.state = next
	p.mu.Unlock()

	elapsed := time.Since(start)
	log.Info("refresh complete",
		"symbols", len(snap), "synthetic", snap.SyntheticCount(), "used_fallback", fallback, "elapsed", elapsed)
	if p.onRefresh != nil {
		p.onRefresh(elapsed)
	}
	for _, fn := range p.listeners {
		fn(ctx, next)
	}
	return next
}
