package forth

import (
	"strconv"
	"strings"
	"time"
)

// Primitive is a built-in word implemented in Go.
type Primitive func(c *Context) error

// PrimitiveWord pairs a primitive with the name it is installed under.
type PrimitiveWord struct {
	Name string
	Run  Primitive
}

// Primitives returns the default primitive table.
func Primitives() []PrimitiveWord {
	return []PrimitiveWord{
		{".", dot},
		{".s", func(c *Context) error {
			c.Emit("\n" + c.Stack.String())
			return nil
		}},

		{"+", binary(func(a, b int) (int, error) { return a + b, nil })},
		{"-", binary(func(a, b int) (int, error) { return a - b, nil })},
		{"*", binary(func(a, b int) (int, error) { return a * b, nil })},
		{"/", binary(func(a, b int) (int, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return floorDiv(a, b), nil
		})},
		{"mod", binary(func(a, b int) (int, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a % b, nil
		})},
		{"/mod", divMod},

		{"=", binary(func(a, b int) (int, error) { return boolCell(a == b), nil })},
		{"<", binary(func(a, b int) (int, error) { return boolCell(a < b), nil })},
		{">", binary(func(a, b int) (int, error) { return boolCell(a > b), nil })},
		{"and", binary(func(a, b int) (int, error) { return a & b, nil })},
		{"or", binary(func(a, b int) (int, error) { return a | b, nil })},
		{"invert", func(c *Context) error {
			v, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Stack.Push(^v)
			return nil
		}},

		{"i", peekReturn(1)},
		{"j", peekReturn(3)},
		{"r@", peekReturn(1)},
		{">r", func(c *Context) error {
			v, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.ReturnStack.Push(v)
			return nil
		}},
		{"r>", func(c *Context) error {
			v, err := c.ReturnStack.Pop()
			if err != nil {
				return err
			}
			c.Stack.Push(v)
			return nil
		}},

		{"emit", func(c *Context) error {
			v, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Emit(string(rune(v)))
			return nil
		}},

		{"swap", func(c *Context) error {
			a, b, err := c.pop2()
			if err != nil {
				return err
			}
			c.Stack.Push(b)
			c.Stack.Push(a)
			return nil
		}},
		{"dup", func(c *Context) error {
			v, err := c.Stack.Peek(1)
			if err != nil {
				return err
			}
			c.Stack.Push(v)
			return nil
		}},
		{"over", func(c *Context) error {
			v, err := c.Stack.Peek(2)
			if err != nil {
				return err
			}
			c.Stack.Push(v)
			return nil
		}},
		{"rot", rot},
		{"drop", func(c *Context) error {
			_, err := c.Stack.Pop()
			return err
		}},

		{"!", func(c *Context) error {
			if err := c.Stack.Require(2); err != nil {
				return err
			}
			addr, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			v, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Store(addr, v)
			return nil
		}},
		{"@", func(c *Context) error {
			addr, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Stack.Push(c.Memory.Load(addr))
			return nil
		}},
		{"allot", func(c *Context) error {
			n, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Memory.Reserve(n)
			return nil
		}},

		{"sleep", func(c *Context) error {
			ms, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Sleep(time.Duration(ms) * time.Millisecond)
			return nil
		}},
		{"random", func(c *Context) error {
			n, err := c.Stack.Pop()
			if err != nil {
				return err
			}
			c.Stack.Push(c.Random(n))
			return nil
		}},
		{"key", func(c *Context) error {
			c.AwaitKey()
			return nil
		}},
		{"words", func(c *Context) error {
			c.Emit(strings.Join(c.Dictionary.Words(), " ") + " ")
			return nil
		}},
	}
}

func dot(c *Context) error {
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	c.Emit(strconv.Itoa(v) + " ")
	return nil
}

// binary pops b then a and pushes op(a, b). A failing op leaves both operands
// in place.
func binary(op func(a, b int) (int, error)) Primitive {
	return func(c *Context) error {
		a, b, err := c.pop2()
		if err != nil {
			return err
		}
		v, err := op(a, b)
		if err != nil {
			c.Stack.Push(a)
			c.Stack.Push(b)
			return err
		}
		c.Stack.Push(v)
		return nil
	}
}

func divMod(c *Context) error {
	if err := c.Stack.Require(2); err != nil {
		return err
	}
	if b, _ := c.Stack.Peek(1); b == 0 {
		return ErrDivisionByZero
	}
	a, b, err := c.pop2()
	if err != nil {
		return err
	}
	c.Stack.Push(a % b)
	c.Stack.Push(floorDiv(a, b))
	return nil
}

// rot ( a b c -- b c a )
func rot(c *Context) error {
	if err := c.Stack.Require(3); err != nil {
		return err
	}
	cv, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	a, b, err := c.pop2()
	if err != nil {
		return err
	}
	c.Stack.Push(b)
	c.Stack.Push(cv)
	c.Stack.Push(a)
	return nil
}

func peekReturn(offset int) Primitive {
	return func(c *Context) error {
		v, err := c.ReturnStack.Peek(offset)
		if err != nil {
			return err
		}
		c.Stack.Push(v)
		return nil
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
