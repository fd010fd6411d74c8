package terminal

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/retroforth/pkg/resources"
	"github.com/antibyte/retroforth/pkg/shared"
	"github.com/antibyte/retroforth/pkg/store"
)

const waitTimeout = 2 * time.Second

// memoryLibrary is an in-process ProgramStore.
type memoryLibrary struct {
	mu       sync.Mutex
	programs map[string][]string
}

func newMemoryLibrary() *memoryLibrary {
	return &memoryLibrary{programs: make(map[string][]string)}
}

func (m *memoryLibrary) Save(name string, lines []string) error {
	name, err := store.NormalizeName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[name] = append([]string(nil), lines...)
	return nil
}

func (m *memoryLibrary) Load(name string) (store.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines, ok := m.programs[name]
	if !ok {
		return store.Program{}, store.ErrProgramNotFound
	}
	return store.Program{Name: name, Source: strings.Join(lines, "\n")}, nil
}

func (m *memoryLibrary) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.programs))
	for name := range m.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryLibrary) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.programs[name]; !ok {
		return store.ErrProgramNotFound
	}
	delete(m.programs, name)
	return nil
}

// recorder collects everything a session sends.
type recorder struct {
	t  *testing.T
	ch chan shared.Message
}

func record(t *testing.T, s *Session) *recorder {
	r := &recorder{t: t, ch: make(chan shared.Message, 1024)}
	s.Attach(func(m shared.Message) { r.ch <- m })
	return r
}

func (r *recorder) next() shared.Message {
	r.t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(waitTimeout):
		r.t.Fatal("timed out waiting for a message")
		return shared.Message{}
	}
}

func isLineEnd(m shared.Message) bool {
	return m.Type == shared.MessageTypeText && !m.NoNewline && m.Content == ""
}

// line returns the concatenated output chunks of the next completed line and
// every non-text message seen on the way.
func (r *recorder) line() (string, []shared.Message) {
	r.t.Helper()
	var (
		out    strings.Builder
		others []shared.Message
	)
	for {
		m := r.next()
		switch {
		case isLineEnd(m):
			return out.String(), others
		case m.Type == shared.MessageTypeText && m.NoNewline:
			out.WriteString(m.Content)
		default:
			others = append(others, m)
		}
	}
}

func newTestSession(t *testing.T, library ProgramStore) *Session {
	t.Helper()
	s, err := NewSession("test", "127.0.0.1", resources.LimitsFromConfig(), library, 16)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSessionSubmit(t *testing.T) {
	s := newTestSession(t, nil)
	r := record(t, s)

	require.NoError(t, s.Submit("2 3 + ."))
	out, _ := r.line()
	assert.Equal(t, "5  ok", out)

	require.NoError(t, s.Submit("drop"))
	out, _ = r.line()
	assert.True(t, strings.HasPrefix(out, " Stack underflow"), out)
}

func TestSessionSleepDisablesInput(t *testing.T) {
	s := newTestSession(t, nil)
	r := record(t, s)

	require.NoError(t, s.Submit("1 . 10 sleep 2 ."))
	out, others := r.line()
	assert.Equal(t, "1 2  ok", out)
	require.Len(t, others, 2)
	assert.Equal(t, shared.InputControlMessage(false).Content, others[0].Content)
	assert.Equal(t, shared.InputControlMessage(true).Content, others[1].Content)
}

func TestSessionQueuesLines(t *testing.T) {
	s := newTestSession(t, nil)
	r := record(t, s)

	require.NoError(t, s.Submit("20 sleep 1 ."))
	require.NoError(t, s.Submit("2 ."))

	out, _ := r.line()
	assert.Equal(t, "1  ok", out)
	out, _ = r.line()
	assert.Equal(t, "2  ok", out)
}

func TestSessionKeyPress(t *testing.T) {
	s := newTestSession(t, nil)
	r := record(t, s)

	require.NoError(t, s.Submit("key ."))
	m := r.next()
	require.Equal(t, shared.MessageTypeInputControl, m.Type)
	assert.Equal(t, shared.InputDisable, m.Content)

	require.NoError(t, s.KeyPress("ArrowUp"))
	out, _ := r.line()
	assert.Equal(t, "38  ok", out)

	// Keys outside a key wait only update last-key
	require.NoError(t, s.KeyPress("a"))
	require.NoError(t, s.Submit("last-key @ ."))
	out, _ = r.line()
	assert.Equal(t, "97  ok", out)
}

func TestSessionGraphicsCells(t *testing.T) {
	s := newTestSession(t, nil)
	r := record(t, s)

	require.NoError(t, s.Submit("7 graphics 25 + !"))
	out, others := r.line()
	assert.Equal(t, " ok", out)
	require.Len(t, others, 1)
	cell := others[0]
	assert.Equal(t, shared.MessageTypeGraphics, cell.Type)
	assert.Equal(t, shared.GraphicsCommandCell, cell.Command)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 1, "value": 7}, cell.Params)

	// Stores outside the grid are silent
	require.NoError(t, s.Submit("variable v 3 v !"))
	_, others = r.line()
	assert.Empty(t, others)
}

func TestSessionSaveLoad(t *testing.T) {
	library := newMemoryLibrary()

	s := newTestSession(t, library)
	r := record(t, s)
	require.NoError(t, s.Submit(": sq dup * ;"))
	r.line()
	require.NoError(t, s.Save("squares"))
	assert.Equal(t, " saved squares", r.next().Content)
	assert.Equal(t, []string{": sq dup * ;"}, s.History())

	other := newTestSession(t, library)
	r2 := record(t, other)
	require.NoError(t, other.Load("squares"))
	echo := r2.next()
	assert.Equal(t, ": sq dup * ;", echo.Content)
	out, _ := r2.line()
	assert.Equal(t, " ok", out)

	require.NoError(t, other.Submit("4 sq ."))
	out, _ = r2.line()
	assert.Equal(t, "16  ok", out)

	require.NoError(t, other.List())
	assert.Equal(t, " squares", r2.next().Content)

	assert.ErrorIs(t, other.Load("missing"), store.ErrProgramNotFound)

	require.NoError(t, other.Delete("squares"))
	assert.Equal(t, " deleted squares", r2.next().Content)
	require.NoError(t, other.List())
	assert.Equal(t, " no programs", r2.next().Content)
	assert.ErrorIs(t, other.Delete("squares"), store.ErrProgramNotFound)
}

func TestSessionWithoutLibrary(t *testing.T) {
	s := newTestSession(t, nil)
	assert.ErrorIs(t, s.Save("x"), ErrNoLibrary)
	assert.ErrorIs(t, s.Load("x"), ErrNoLibrary)
	assert.ErrorIs(t, s.List(), ErrNoLibrary)
	assert.ErrorIs(t, s.Delete("x"), ErrNoLibrary)
}

func TestSessionLineTooLong(t *testing.T) {
	s := newTestSession(t, nil)
	long := strings.Repeat("1 ", resources.LimitsFromConfig().MaxLineLength)
	assert.ErrorIs(t, s.Submit(long), ErrLineTooLong)
}

func TestSessionClosed(t *testing.T) {
	s := newTestSession(t, nil)
	s.Close()
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Submit("1"), ErrSessionClosed)
	assert.ErrorIs(t, s.KeyPress("a"), ErrSessionClosed)
}

func TestSessionCloseReleasesWaiters(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := newTestSession(t, newMemoryLibrary())
		release := make(chan struct{})
		require.True(t, s.post(func() { <-release }))

		saved := make(chan error, 1)
		history := make(chan []string, 1)
		go func() { saved <- s.Save("busy") }()
		go func() { history <- s.History() }()
		time.Sleep(5 * time.Millisecond)
		s.Close()
		close(release)

		select {
		case err := <-saved:
			if err != nil {
				assert.ErrorIs(t, err, ErrSessionClosed)
			}
		case <-time.After(waitTimeout):
			t.Fatal("Save still waiting after Close")
		}
		select {
		case <-history:
		case <-time.After(waitTimeout):
			t.Fatal("History still waiting after Close")
		}
	}
}

func TestKeyCode(t *testing.T) {
	tests := []struct {
		key  string
		code int
		ok   bool
	}{
		{"ArrowLeft", 37, true},
		{"ArrowUp", 38, true},
		{"ArrowRight", 39, true},
		{"ArrowDown", 40, true},
		{" ", 32, true},
		{"Enter", 13, true},
		{"a", 97, true},
		{"é", 233, true},
		{"Shift", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		code, ok := keyCode(tt.key)
		assert.Equal(t, tt.ok, ok, "key %q", tt.key)
		assert.Equal(t, tt.code, code, "key %q", tt.key)
	}
}
