package forth

import (
	"math/rand"
	"time"
)

const defaultMaxDepth = 1024

// Option configures a session created by New.
type Option func(f *Forth)

// WithPrimitives replaces the built-in primitive table.
func WithPrimitives(words []PrimitiveWord) Option {
	return func(f *Forth) { f.primitives = words }
}

// WithScheduler sets the timer source used by sleep.
func WithScheduler(s Scheduler) Option {
	return func(f *Forth) {
		if s != nil {
			f.ctx.scheduler = s
		}
	}
}

// WithRandom sets the source used by random.
func WithRandom(r *rand.Rand) Option {
	return func(f *Forth) {
		if r != nil {
			f.ctx.rand = r
		}
	}
}

// WithMaxDepth bounds the number of nested compiled words.
func WithMaxDepth(depth int) Option {
	return func(f *Forth) {
		if depth > 0 {
			f.maxDepth = depth
		}
	}
}

// WithStepLimit aborts a line after n actions without a suspension; zero
// means unlimited.
func WithStepLimit(n int) Option {
	return func(f *Forth) { f.maxSteps = n }
}

// WithMaxSleep clamps the delay of a single sleep.
func WithMaxSleep(d time.Duration) Option {
	return func(f *Forth) { f.ctx.maxSleep = d }
}

// WithoutBootstrap skips the bootstrap definitions.
func WithoutBootstrap() Option {
	return func(f *Forth) { f.skipBoot = true }
}
