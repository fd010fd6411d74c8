package forth

import (
	"math/rand"
	"time"
)

// Boolean cells.
const (
	True  = -1
	False = 0
)

func boolCell(b bool) int {
	if b {
		return True
	}
	return False
}

// Scheduler delivers a callback after a delay. Hosts that must stay single
// threaded provide one that posts f into their own event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, f func())

func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) { fn(d, f) }

var realTime = SchedulerFunc(func(d time.Duration, f func()) { time.AfterFunc(d, f) })

// Context is the state of one interpreter session, handed to every primitive.
type Context struct {
	Stack       *Stack
	ReturnStack *Stack
	Dictionary  *Dictionary
	Memory      *Memory

	paused      bool
	awaitingKey bool
	wait        func(resume func())

	output         func(string)
	onMemoryChange func(address, value int)

	scheduler Scheduler
	rand      *rand.Rand
	maxSleep  time.Duration
}

func newContext() *Context {
	return &Context{
		Stack:       NewStack(ArgumentStackName),
		ReturnStack: NewStack(ReturnStackName),
		Dictionary:  NewDictionary(),
		Memory:      NewMemory(),
		output:      func(string) {},
		scheduler:   realTime,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Emit sends one output chunk to the current line's sink.
func (c *Context) Emit(s string) {
	c.output(s)
}

// Store writes a cell and notifies the memory handler.
func (c *Context) Store(address, value int) {
	c.Memory.Store(address, value)
	if c.onMemoryChange != nil {
		c.onMemoryChange(address, value)
	}
}

// Suspend pauses the current line once the calling primitive returns. wait,
// if not nil, is called after the remaining work has been saved and must
// arrange for resume to run when the awaited event happens.
func (c *Context) Suspend(wait func(resume func())) {
	c.paused = true
	c.wait = wait
}

// Paused reports whether a suspension is pending.
func (c *Context) Paused() bool { return c.paused }

// Sleep suspends the current line for d.
func (c *Context) Sleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if c.maxSleep > 0 && d > c.maxSleep {
		d = c.maxSleep
	}
	c.Suspend(func(resume func()) {
		c.scheduler.AfterFunc(d, resume)
	})
}

// AwaitKey suspends the current line until the host reports a key press.
func (c *Context) AwaitKey() {
	c.awaitingKey = true
	c.Suspend(nil)
}

// Random returns a number in [0, n), or 0 when n is not positive.
func (c *Context) Random(n int) int {
	if n <= 0 {
		return 0
	}
	return c.rand.Intn(n)
}

// pop2 pops b then a, returning them in push order. The stack is untouched
// when it holds fewer than two cells.
func (c *Context) pop2() (a, b int, err error) {
	if err = c.Stack.Require(2); err != nil {
		return 0, 0, err
	}
	if b, err = c.Stack.Pop(); err != nil {
		return 0, 0, err
	}
	if a, err = c.Stack.Pop(); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
