package forth

import (
	"strconv"
	"strings"
)

// Stack names used in underflow messages.
const (
	ArgumentStackName = "Argument Stack"
	ReturnStackName   = "Return Stack"
)

// Stack is a LIFO store of cells.
type Stack struct {
	name  string
	cells []int
}

// NewStack creates an empty stack identified by name in error messages.
func NewStack(name string) *Stack {
	return &Stack{name: name}
}

func (s *Stack) Name() string { return s.name }

func (s *Stack) Len() int { return len(s.cells) }

func (s *Stack) Push(v int) {
	s.cells = append(s.cells, v)
}

// Pop removes and returns the top cell.
func (s *Stack) Pop() (int, error) {
	i := len(s.cells) - 1
	if i < 0 {
		return 0, &StackUnderflowError{Stack: s.name}
	}
	v := s.cells[i]
	s.cells = s.cells[:i]
	return v, nil
}

// Require fails with a StackUnderflowError when fewer than n cells are
// present, so multi-cell words can check before popping anything.
func (s *Stack) Require(n int) error {
	if len(s.cells) < n {
		return &StackUnderflowError{Stack: s.name}
	}
	return nil
}

// Peek returns the cell at offset from the top without removing it; the top
// has offset 1.
func (s *Stack) Peek(offset int) (int, error) {
	if offset < 1 {
		offset = 1
	}
	i := len(s.cells) - offset
	if i < 0 {
		return 0, &StackUnderflowError{Stack: s.name}
	}
	return s.cells[i], nil
}

// Values returns a copy of the cells, bottom first.
func (s *Stack) Values() []int {
	return append([]int(nil), s.cells...)
}

// String renders the stack bottom to top, e.g. "1 2 3 <- Top ".
func (s *Stack) String() string {
	var sb strings.Builder
	for i, v := range s.cells {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteString(" <- Top ")
	return sb.String()
}
