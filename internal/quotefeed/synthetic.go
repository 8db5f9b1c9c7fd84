package quotefeed

import (
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// Synthetic quote ranges. Each is half-open: [min, min+span).
const (
	syntheticPriceMin   = 50.0
	syntheticPriceSpan  = 200.0
	syntheticChangeSpan = 10.0
	syntheticPctSpan    = 5.0
)

// Rand is the random source behind synthetic quotes. Float64 must return
// values in [0, 1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Generator produces placeholder quotes. It is safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	r  Rand
}

// NewGenerator returns a generator drawing from r, or from the
// process-wide source when r is nil.
func NewGenerator(r Rand) *Generator {
	if r == nil {
		r = globalRand{}
	}
	return &Generator{r: r}
}

// Quote returns a synthetic quote with price in [50,250), change in [-5,5)
// and change percent in [-2.5,2.5), each cut to two decimals.
func (g *Generator) Quote(symbol string) Quote {
	g.mu.Lock()
	p, c, cp := g.r.Float64(), g.r.Float64(), g.r.Float64()
	g.mu.Unlock()

	return Quote{
		Symbol:        Canonical(symbol),
		Price:         cents(p*syntheticPriceSpan + syntheticPriceMin),
		Change:        cents((c - 0.5) * syntheticChangeSpan),
		ChangePercent: cents((cp - 0.5) * syntheticPctSpan),
		Synthetic:     true,
	}
}

// Snapshot returns a synthetic quote for every symbol, in order.
func (g *Generator) Snapshot(symbols []string) Snapshot {
	out := make(Snapshot, len(symbols))
	for i, s := range symbols {
		out[i] = g.Quote(s)
	}
	return out
}

// cents truncates toward zero so a draw just below an upper bound never
// rounds up onto it.
func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Truncate(2).InexactFloat64()
}
