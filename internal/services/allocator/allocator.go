package allocator

import "math"

const pfFloor = 0.1

// Config bounds the split between the two agents.
type Config struct {
	Period   int
	MinAlloc float64
	MaxAlloc float64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{Period: 20, MinAlloc: 0.2, MaxAlloc: 0.8}
}

// Allocator recomputes capital fractions from relative profit factor.
type Allocator struct {
	cfg Config
}

// New creates an allocator.
func New(cfg Config) *Allocator {
	return &Allocator{cfg: cfg}
}

// Due reports whether liveTrades closes a rebalancing period.
func (a *Allocator) Due(liveTrades int) bool {
	return a.cfg.Period > 0 && liveTrades > 0 && liveTrades%a.cfg.Period == 0
}

// Allocate returns the (A, B) fractions. They always sum to 1 and both lie in
// [MinAlloc, MaxAlloc] whenever the bounds admit such a pair.
func (a *Allocator) Allocate(pfA, pfB float64) (float64, float64) {
	pfA = floorPF(pfA)
	pfB = floorPF(pfB)
	lo := math.Max(a.cfg.MinAlloc, 1-a.cfg.MaxAlloc)
	hi := math.Min(a.cfg.MaxAlloc, 1-a.cfg.MinAlloc)
	if lo > hi {
		lo, hi = 0.5, 0.5
	}
	allocA := math.Min(math.Max(pfA/(pfA+pfB), lo), hi)
	return allocA, 1 - allocA
}

func floorPF(pf float64) float64 {
	if math.IsNaN(pf) || pf < pfFloor {
		return pfFloor
	}
	if math.IsInf(pf, 1) {
		return math.MaxFloat64 / 4
	}
	return pf
}
