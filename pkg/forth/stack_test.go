package forth

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack(t *testing.T) {
	s := NewStack(ArgumentStackName)
	s.Push(1)
	s.Push(2)
	s.Push(3)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "1 2 3 <- Top ", s.String())

	v, err := s.Peek(1)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = s.Peek(3)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = s.Peek(4)
	assert.Error(t, err)

	v, err = s.Pop()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []int{1, 2}, s.Values())
}

func TestStackUnderflow(t *testing.T) {
	s := NewStack(ReturnStackName)
	_, err := s.Pop()
	var underflow *StackUnderflowError
	require.True(t, errors.As(err, &underflow))
	assert.Equal(t, ReturnStackName, underflow.Stack)
	assert.Equal(t, "Stack underflow in Return Stack", err.Error())

	s.Push(7)
	assert.Error(t, s.Require(2))
	assert.Equal(t, []int{7}, s.Values())
	assert.NoError(t, s.Require(1))
}

func TestEmptyStackString(t *testing.T) {
	assert.Equal(t, " <- Top ", NewStack(ArgumentStackName).String())
}
