// Package console runs one interpreter session on a local terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/forth"
	"github.com/antibyte/retroforth/pkg/logger"
)

const (
	DefaultPrompt = "\033[32m»\033[0m "
	keyPrompt     = "key> "
	keyEnter      = 13
	keyInterrupt  = 3
)

// KeyReader returns the next key code for a line waiting in key.
type KeyReader func() (int, error)

// Config sets up the readline prompt.
type Config struct {
	Prompt      string
	HistoryFile string
	Stdin       io.ReadCloser // nil means the terminal
	Stdout      io.Writer     // nil means the terminal
}

// Console drives a forth.Forth synchronously: Exec returns once the line has
// completed, running sleep timers and key waits in between.
type Console struct {
	forth   *forth.Forth
	out     io.Writer
	readKey KeyReader
	events  chan func()
}

// New creates a console session writing to out. readKey serves the key word;
// nil makes key see Enter.
func New(out io.Writer, readKey KeyReader, opts ...forth.Option) (*Console, error) {
	c := &Console{
		out:     out,
		readKey: readKey,
		events:  make(chan func(), 1),
	}
	if c.readKey == nil {
		c.readKey = func() (int, error) { return keyEnter, nil }
	}

	opts = append([]forth.Option{forth.WithScheduler(forth.SchedulerFunc(c.afterFunc))}, opts...)
	f, err := forth.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create interpreter")
	}
	c.forth = f
	return c, nil
}

func (c *Console) afterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() { c.events <- f })
}

// Forth exposes the underlying session.
func (c *Console) Forth() *forth.Forth { return c.forth }

// Exec runs line to completion and terminates the output with a newline.
// Once the key reader fails, every further key wait of the line sees ^C and
// the read error is returned after the line has finished.
func (c *Console) Exec(line string) error {
	done := false
	write := func(s string) { io.WriteString(c.out, s) }
	if err := c.forth.ReadLine(line, write, func() { done = true }); err != nil {
		return err
	}

	var keyErr error
	for !done {
		if c.forth.AwaitingKey() {
			code := keyInterrupt
			if keyErr == nil {
				var err error
				if code, err = c.readKey(); err != nil {
					keyErr = errors.Wrap(err, "read key")
					code = keyInterrupt
				}
			}
			c.forth.KeyPress(code)
			continue
		}
		fn := <-c.events
		fn()
	}
	if _, err := io.WriteString(c.out, "\n"); err != nil {
		return err
	}
	return keyErr
}

// Run reads lines until EOF.
func Run(cfg Config, opts ...forth.Option) error {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:            cfg.Prompt,
		HistoryFile:       cfg.HistoryFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "bye",
		HistorySearchFold: true,
		Stdin:             cfg.Stdin,
		Stdout:            cfg.Stdout,
	})
	if err != nil {
		return errors.Wrap(err, "init readline")
	}
	defer l.Close()

	c, err := New(l.Stdout(), keyReader(l), opts...)
	if err != nil {
		return err
	}
	logger.Info(logger.AreaConsole, "Console session started")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrap(err, "read line")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := c.Exec(line); err != nil {
			if errors.Cause(err) == io.EOF {
				break
			}
			fmt.Fprintln(l.Stderr(), err)
		}
	}
	logger.Info(logger.AreaConsole, "Console session ended")
	return nil
}

// keyReader asks for a key on its own prompt: the first rune of the entry,
// Enter for an empty entry, ^C for an interrupt.
func keyReader(l *readline.Instance) KeyReader {
	return func() (int, error) {
		prompt := l.Config.Prompt
		l.SetPrompt(keyPrompt)
		defer l.SetPrompt(prompt)

		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			return keyInterrupt, nil
		}
		if err != nil {
			return 0, err
		}
		if line == "" {
			return keyEnter, nil
		}
		r, _ := utf8.DecodeRuneInString(line)
		return int(r), nil
	}
}
