// Package randengine wraps golang.org/x/exp/rand with the handful of draws
// the simulator and the forest need. An Engine is not safe for concurrent
// use; derive one per goroutine with Child.
package randengine

import (
	"golang.org/x/exp/rand"
)

type Engine struct {
	*rand.Rand
	seed uint64
}

func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the seed the engine was created with.
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Uniform draws from [lo, hi).
func (e *Engine) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*e.Float64()
}

// Choice returns an index in [0, n) with equal probability.
func (e *Engine) Choice(n int) int {
	return e.Intn(n)
}

// Child derives an independent engine. The derived seed depends only on the
// parent seed and i, never on how many draws the parent has made.
func (e *Engine) Child(i int) *Engine {
	// splitmix64 finalizer
	z := e.seed + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return New(z ^ (z >> 31))
}

// Pick returns a uniformly chosen element of items.
func Pick[T any](e *Engine, items []T) T {
	return items[e.Choice(len(items))]
}
