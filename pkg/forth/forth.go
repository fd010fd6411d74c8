package forth

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/logger"
)

// Names of the variables the bootstrap creates.
const (
	GraphicsVariable = "graphics"
	LastKeyVariable  = "last-key"
)

const okStatus = " ok"

var (
	ErrCallDepthExceeded = errors.New("call depth exceeded")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)

// Sinks receive the echo of each line and the output chunks of a batch.
type Sinks struct {
	Line   func(line string)
	Output func(chunk string)
}

// Forth is one interpreter session. It is not safe for concurrent use: the
// host must not start a line while another is running or suspended.
type Forth struct {
	ctx       *Context
	compiling *compiler
	pending   *task

	primitives   []PrimitiveWord
	maxDepth     int
	maxSteps     int
	skipBoot     bool
	bootstrapped bool
}

// New creates a session with the control words, the primitive table and the
// bootstrap definitions installed.
func New(opts ...Option) (*Forth, error) {
	f := &Forth{
		ctx:        newContext(),
		primitives: Primitives(),
		maxDepth:   defaultMaxDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	for _, cw := range controlWords {
		f.ctx.Dictionary.Define(string(cw), cw)
	}
	for _, p := range f.primitives {
		f.ctx.Dictionary.Define(p.Name, p.Run)
	}
	if f.skipBoot {
		return f, nil
	}
	if err := f.bootstrap(); err != nil {
		return nil, err
	}
	logger.Debug(logger.AreaForth, "session ready: %d dictionary entries, here=%d",
		f.ctx.Dictionary.Len(), f.ctx.Memory.Here())
	return f, nil
}

func (f *Forth) bootstrap() error {
	for _, line := range bootstrapLines {
		var out strings.Builder
		if err := f.ReadLine(line, func(s string) { out.WriteString(s) }, nil); err != nil {
			return errors.Wrap(err, "bootstrap")
		}
		if f.pending != nil {
			return errors.Errorf("bootstrap line %q suspended", line)
		}
		if got := out.String(); got != okStatus {
			return errors.Errorf("bootstrap line %q failed:%s", line, got)
		}
	}
	f.bootstrapped = true
	return nil
}

// Context exposes the session state to hosts and primitives.
func (f *Forth) Context() *Context { return f.ctx }

// Paused reports whether a line is suspended waiting for Resume.
func (f *Forth) Paused() bool { return f.pending != nil }

// AwaitingKey reports whether the suspended line waits for KeyPress rather
// than a timer.
func (f *Forth) AwaitingKey() bool { return f.pending != nil && f.ctx.awaitingKey }

// Defining reports whether a colon definition is open.
func (f *Forth) Defining() bool { return f.compiling != nil && !f.compiling.anonymous }

// StackString renders the data stack.
func (f *Forth) StackString() string { return f.ctx.Stack.String() }

// SetMemoryHandler registers cb to be called for every store, along with the
// address of the graphics block.
func (f *Forth) SetMemoryHandler(cb func(address, value, graphicsBase int)) {
	if cb == nil {
		f.ctx.onMemoryChange = nil
		return
	}
	f.ctx.onMemoryChange = func(address, value int) {
		base, _ := f.ctx.Memory.Address(GraphicsVariable)
		cb(address, value, base)
	}
}

// ReadLine interprets one line. output receives each chunk as it is produced;
// done runs when the line is complete, which may be after one or more Resume
// calls. ReadLine returns ErrPaused without doing anything while a previous
// line is suspended.
func (f *Forth) ReadLine(line string, output func(string), done func()) error {
	if f.pending != nil {
		return ErrPaused
	}
	if output == nil {
		output = func(string) {}
	}
	f.ctx.output = output
	f.run(newTask(line, done))
	return nil
}

// ReadLines interprets lines in order, starting each only after the previous
// one completed. done runs after the last line.
func (f *Forth) ReadLines(lines []string, sinks Sinks, done func()) error {
	if f.pending != nil {
		return ErrPaused
	}
	f.readLines(lines, sinks, done)
	return nil
}

func (f *Forth) readLines(lines []string, sinks Sinks, done func()) {
	for len(lines) > 0 {
		line, rest := lines[0], lines[1:]
		if sinks.Line != nil {
			sinks.Line(line)
		}

		inline, finished := true, false
		f.ReadLine(line, sinks.Output, func() {
			if inline {
				finished = true
				return
			}
			f.readLines(rest, sinks, done)
		})
		inline = false
		if !finished {
			return
		}
		lines = rest
	}
	if done != nil {
		done()
	}
}

// Resume continues the suspended line where it left off.
func (f *Forth) Resume() error {
	t := f.pending
	if t == nil {
		return ErrNotPaused
	}
	f.pending = nil
	f.ctx.paused = false
	f.ctx.awaitingKey = false
	t.steps = 0
	logger.Debug(logger.AreaForth, "resume")
	f.run(t)
	return nil
}

// KeyPress records code in last-key and, if the key word is waiting, pushes
// it and resumes the suspended line.
func (f *Forth) KeyPress(code int) {
	if addr, ok := f.ctx.Memory.Address(LastKeyVariable); ok {
		f.ctx.Memory.Store(addr, code)
	}
	if f.ctx.awaitingKey && f.pending != nil {
		f.ctx.awaitingKey = false
		f.ctx.Stack.Push(code)
		f.Resume()
	}
}

func (f *Forth) run(t *task) {
	for {
		var err error
		if fr := t.current(); fr != nil {
			err = f.step(t, fr)
		} else if tok, ok := t.tokens.Next(); ok {
			err = f.interpret(t, tok)
		} else {
			f.finish(t)
			return
		}

		if err == nil && f.maxSteps > 0 {
			if t.steps++; t.steps > f.maxSteps {
				err = ErrStepLimitExceeded
			}
		}
		if err != nil {
			f.fail(t, err)
			return
		}
		if f.ctx.paused {
			f.suspend(t)
			return
		}
	}
}

func (f *Forth) finish(t *task) {
	if f.compiling == nil {
		f.ctx.Emit(okStatus)
	}
	t.done()
}

func (f *Forth) fail(t *task, err error) {
	if f.Defining() {
		logger.Debug(logger.AreaForth, "abandoning definition %q", f.compiling.name)
	}
	f.compiling = nil
	f.ctx.paused = false
	f.ctx.awaitingKey = false
	f.ctx.wait = nil
	if f.bootstrapped {
		logger.Debug(logger.AreaForth, "line aborted: %v", err)
	}
	f.ctx.Emit(" " + err.Error())
	t.done()
}

func (f *Forth) suspend(t *task) {
	f.pending = t
	wait := f.ctx.wait
	f.ctx.wait = nil
	logger.Debug(logger.AreaForth, "suspended with %d active words", len(t.frames))
	if wait != nil {
		wait(func() { f.Resume() })
	}
}

// interpret dispatches one token either to the open definition or to
// immediate execution.
func (f *Forth) interpret(t *task, tok Token) error {
	if tok.StringLiteral {
		if f.compiling != nil {
			f.compiling.text(tok.Text)
		} else {
			f.ctx.Emit(tok.Text)
		}
		return nil
	}

	def, found := f.ctx.Dictionary.Lookup(tok.Text)
	if !found {
		n, err := parseNumber(tok.Text)
		if err != nil {
			return &MissingWordError{Word: tok.Text}
		}
		if f.compiling != nil {
			f.compiling.literal(n)
		} else {
			f.ctx.Stack.Push(n)
		}
		return nil
	}

	if cw, ok := def.(controlWord); ok {
		return f.control(t, string(cw))
	}
	if f.compiling != nil {
		f.compiling.call(tok.Text)
		return nil
	}
	return f.execute(t, tok.Text, def)
}

func (f *Forth) control(t *task, word string) error {
	switch word {
	case ":":
		if f.compiling != nil {
			return ErrUnexpectedDefinitionStart
		}
		name, err := f.name(t, word)
		if err != nil {
			return err
		}
		f.compiling = newCompiler(name)

	case ";":
		if f.compiling == nil || f.compiling.anonymous {
			return mismatched(word)
		}
		w, err := f.compiling.finish()
		if err != nil {
			return err
		}
		f.compiling = nil
		f.ctx.Dictionary.Define(w.Name, w)
		if f.bootstrapped {
			logger.Debug(logger.AreaForth, "defined %q (%d actions)", w.Name, w.Len())
		}

	case "variable":
		name, err := f.name(t, word)
		if err != nil {
			return err
		}
		addr := f.ctx.Memory.DeclareVariable(name)
		f.ctx.Dictionary.Define(name, literalWord(name, addr))

	case "constant":
		name, err := f.name(t, word)
		if err != nil {
			return err
		}
		v, err := f.ctx.Stack.Pop()
		if err != nil {
			return err
		}
		f.ctx.Dictionary.Define(name, literalWord(name, v))

	default:
		if f.compiling == nil {
			switch word {
			case "if", "do", "begin":
				f.compiling = newAnonymousCompiler()
			default:
				return mismatched(word)
			}
		}
		if err := f.compiling.compileControl(word); err != nil {
			return err
		}
		if c := f.compiling; c.anonymous && c.closed() {
			f.compiling = nil
			w, err := c.finish()
			if err != nil {
				return err
			}
			return f.execute(t, word, w)
		}
	}
	return nil
}

func (f *Forth) name(t *task, word string) (string, error) {
	tok, ok := t.tokens.Next()
	if !ok || tok.StringLiteral {
		return "", &MissingNameError{Word: word}
	}
	return tok.Text, nil
}

func (f *Forth) execute(t *task, name string, def Definition) error {
	switch d := def.(type) {
	case Primitive:
		return d(f.ctx)
	case *Word:
		if len(t.frames) >= f.maxDepth {
			return ErrCallDepthExceeded
		}
		t.push(d)
		return nil
	default:
		return &MissingWordError{Word: name}
	}
}

// step runs the next action of the innermost compiled word.
func (f *Forth) step(t *task, fr *frame) error {
	in := fr.word.code[fr.ip]
	fr.ip++

	switch in.op {
	case opLiteral:
		f.ctx.Stack.Push(in.value)

	case opString:
		f.ctx.Emit(in.name)

	case opCall:
		def, ok := f.ctx.Dictionary.Lookup(in.name)
		if !ok {
			return &MissingWordError{Word: in.name}
		}
		return f.execute(t, in.name, def)

	case opBranch:
		fr.ip = in.value

	case opBranchIfFalse, opUntil:
		flag, err := f.ctx.Stack.Pop()
		if err != nil {
			return err
		}
		if flag == False {
			fr.ip = in.value
		}

	case opDo:
		limit, start, err := f.ctx.pop2()
		if err != nil {
			return err
		}
		if start == limit {
			fr.ip = in.value
			break
		}
		f.ctx.ReturnStack.Push(limit)
		f.ctx.ReturnStack.Push(start)

	case opLoop, opPlusLoop:
		if err := f.ctx.ReturnStack.Require(2); err != nil {
			return err
		}
		inc := 1
		if in.op == opPlusLoop {
			var err error
			if inc, err = f.ctx.Stack.Pop(); err != nil {
				return err
			}
		}
		index, err := f.ctx.ReturnStack.Pop()
		if err != nil {
			return err
		}
		limit, err := f.ctx.ReturnStack.Pop()
		if err != nil {
			return err
		}
		if next := index + inc; !loopDone(next, limit, inc) {
			f.ctx.ReturnStack.Push(limit)
			f.ctx.ReturnStack.Push(next)
			fr.ip = in.value
		}
	}
	return nil
}

func loopDone(index, limit, inc int) bool {
	if inc < 0 {
		return index < limit
	}
	return index >= limit
}

func parseNumber(s string) (int, error) {
	n, err := strconv.ParseInt(s, 10, strconv.IntSize)
	return int(n), err
}
