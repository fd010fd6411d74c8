package terminal

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/forth"
	"github.com/antibyte/retroforth/pkg/logger"
	"github.com/antibyte/retroforth/pkg/resources"
	"github.com/antibyte/retroforth/pkg/shared"
	"github.com/antibyte/retroforth/pkg/store"
)

// ProgramStore is the program library a session saves to and loads from.
type ProgramStore interface {
	Save(name string, lines []string) error
	Load(name string) (store.Program, error)
	List() ([]string, error)
	Delete(name string) error
}

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrQueueFull      = errors.New("input queue full")
	ErrLineTooLong    = errors.New("line too long")
	ErrNoLibrary      = errors.New("program library unavailable")
	ErrProgramTooLong = errors.New("program too long")
)

const sessionEventBuffer = 64

// Browser key codes for the named keys; everything else reports its rune.
var keyCodes = map[string]int{
	"Backspace":  8,
	"Tab":        9,
	"Enter":      13,
	"Escape":     27,
	" ":          32,
	"Space":      32,
	"ArrowLeft":  37,
	"ArrowUp":    38,
	"ArrowRight": 39,
	"ArrowDown":  40,
	"Delete":     46,
}

// keyCode converts a browser key name; ok is false for keys without a code
// such as "Shift".
func keyCode(key string) (int, bool) {
	if code, ok := keyCodes[key]; ok {
		return code, true
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		return int(r), true
	}
	return 0, false
}

// Session owns one interpreter. All interpreter access happens on the
// session's event loop goroutine; other goroutines post closures into it.
type Session struct {
	ID        string
	IPAddress string

	forth   *forth.Forth
	limits  resources.Limits
	library ProgramStore

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Nur im Event-Loop benutzt
	queue         []func()
	maxPending    int
	running       bool
	inputDisabled bool
	history       []string

	outMu sync.Mutex
	out   func(shared.Message)
}

// NewSession creates the interpreter and starts the event loop.
func NewSession(id, ip string, limits resources.Limits, library ProgramStore, maxPending int) (*Session, error) {
	s := &Session{
		ID:         id,
		IPAddress:  ip,
		limits:     limits,
		library:    library,
		events:     make(chan func(), sessionEventBuffer),
		done:       make(chan struct{}),
		maxPending: maxPending,
	}

	f, err := forth.New(
		forth.WithScheduler(forth.SchedulerFunc(s.afterFunc)),
		forth.WithMaxDepth(limits.MaxCallDepth),
		forth.WithStepLimit(limits.StepLimit),
		forth.WithMaxSleep(limits.MaxSleep),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create interpreter")
	}
	f.SetMemoryHandler(s.memoryChanged)
	s.forth = f

	go s.loop()
	logger.Info(logger.AreaSession, "Session %s started (IP: %s)", id, ip)
	return s, nil
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post queues fn for the event loop. It returns false once the session is
// closed.
func (s *Session) post(fn func()) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the event loop and waits for it. A closure still queued
// when the session closes never runs, so Close ends the wait too.
func (s *Session) call(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		fn()
		close(finished)
	}) {
		return ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// afterFunc is the interpreter's scheduler: the timer fires on its own
// goroutine and hands the resume back to the event loop.
func (s *Session) afterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		s.post(func() {
			f()
			s.pump()
		})
	})
}

// Close stops the event loop; pending timers become no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.Attach(nil)
		logger.Info(logger.AreaSession, "Session %s closed", s.ID)
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Attach routes output to out; nil detaches and drops output.
func (s *Session) Attach(out func(shared.Message)) {
	s.outMu.Lock()
	s.out = out
	s.outMu.Unlock()
}

func (s *Session) send(msg shared.Message) {
	s.outMu.Lock()
	out := s.out
	s.outMu.Unlock()
	if out != nil {
		out(msg)
	}
}

func (s *Session) sendError(err error) {
	s.send(shared.LineMessage(" " + err.Error()))
}

// Submit queues one source line.
func (s *Session) Submit(line string) error {
	if s.limits.MaxLineLength > 0 && len(line) > s.limits.MaxLineLength {
		return errors.Wrapf(ErrLineTooLong, "%d > %d", len(line), s.limits.MaxLineLength)
	}
	return s.enqueue(func() { s.runLine(line) })
}

// KeyPress forwards a browser key to the interpreter.
func (s *Session) KeyPress(key string) error {
	code, ok := keyCode(key)
	if !ok {
		return nil
	}
	if !s.post(func() {
		s.forth.KeyPress(code)
		s.pump()
	}) {
		return ErrSessionClosed
	}
	return nil
}

// Load replays a stored program line by line.
func (s *Session) Load(name string) error {
	if s.library == nil {
		return ErrNoLibrary
	}
	program, err := s.library.Load(name)
	if err != nil {
		return err
	}
	lines := program.Lines()
	if s.limits.MaxBatchLines > 0 && len(lines) > s.limits.MaxBatchLines {
		return errors.Wrapf(ErrProgramTooLong, "%d lines", len(lines))
	}
	return s.enqueue(func() { s.runProgram(program.Name, lines) })
}

// Save stores the lines accepted so far under name.
func (s *Session) Save(name string) error {
	if s.library == nil {
		return ErrNoLibrary
	}
	var err error
	if cerr := s.call(func() {
		err = s.library.Save(name, append([]string(nil), s.history...))
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	s.send(shared.LineMessage(" saved " + name))
	return nil
}

// Delete removes a stored program.
func (s *Session) Delete(name string) error {
	if s.library == nil {
		return ErrNoLibrary
	}
	if err := s.library.Delete(name); err != nil {
		return err
	}
	s.send(shared.LineMessage(" deleted " + name))
	return nil
}

// List sends the names of all stored programs.
func (s *Session) List() error {
	if s.library == nil {
		return ErrNoLibrary
	}
	names, err := s.library.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		s.send(shared.LineMessage(" no programs"))
		return nil
	}
	s.send(shared.LineMessage(" " + strings.Join(names, " ")))
	return nil
}

func (s *Session) enqueue(job func()) error {
	if !s.post(func() {
		if s.maxPending > 0 && len(s.queue) >= s.maxPending {
			s.sendError(ErrQueueFull)
			return
		}
		s.queue = append(s.queue, job)
		s.pump()
	}) {
		return ErrSessionClosed
	}
	return nil
}

// pump starts queued jobs until one suspends or the queue is empty.
func (s *Session) pump() {
	for !s.running && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue = s.queue[1:]
		job()
	}
	if s.running && !s.inputDisabled {
		s.inputDisabled = true
		s.send(shared.InputControlMessage(false))
	}
}

func (s *Session) remember(line string) {
	s.history = append(s.history, line)
	if s.limits.HistoryLines > 0 && len(s.history) > s.limits.HistoryLines {
		s.history = s.history[len(s.history)-s.limits.HistoryLines:]
	}
}

func (s *Session) runLine(line string) {
	s.running = true
	s.remember(line)
	if err := s.forth.ReadLine(line, s.emit, s.lineDone); err != nil {
		s.running = false
		s.sendError(err)
	}
}

func (s *Session) runProgram(name string, lines []string) {
	logger.Debug(logger.AreaSession, "Session %s loads %s (%d lines)", s.ID, name, len(lines))
	s.running = true
	err := s.forth.ReadLines(lines, forth.Sinks{
		Line: func(line string) {
			s.remember(line)
			s.send(shared.LineMessage(line))
		},
		Output: s.emit,
	}, s.lineDone)
	if err != nil {
		s.running = false
		s.sendError(err)
	}
}

func (s *Session) emit(chunk string) {
	s.send(shared.TextMessage(chunk))
}

func (s *Session) lineDone() {
	s.running = false
	if s.inputDisabled {
		s.inputDisabled = false
		s.send(shared.InputControlMessage(true))
	}
	s.send(shared.LineMessage(""))
}

// memoryChanged reports stores into the graphics block as CELL commands.
func (s *Session) memoryChanged(address, value, graphicsBase int) {
	if graphicsBase == 0 {
		return
	}
	offset := address - graphicsBase
	if offset < 0 || offset >= forth.GraphicsCells {
		return
	}
	s.send(shared.CellMessage(offset%forth.GraphicsWidth, offset/forth.GraphicsWidth, value))
}

// History returns a copy of the accepted lines.
func (s *Session) History() []string {
	var lines []string
	if err := s.call(func() { lines = append([]string(nil), s.history...) }); err != nil {
		return nil
	}
	return lines
}

func marshalMessage(msg shared.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	return data, errors.Wrap(err, "marshal message")
}
