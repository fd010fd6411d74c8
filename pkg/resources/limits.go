package resources

import (
	"time"

	"github.com/antibyte/retroforth/pkg/configuration"
)

// Limits bounds what one interpreter session may do.
type Limits struct {
	MaxLineLength int           `json:"max_line_length"` // Zeichen pro Eingabezeile
	MaxBatchLines int           `json:"max_batch_lines"` // Zeilen pro geladenem Programm
	MaxSleep      time.Duration `json:"max_sleep"`       // längste einzelne Pause
	MaxCallDepth  int           `json:"max_call_depth"`
	StepLimit     int           `json:"step_limit"` // Aktionen ohne Unterbrechung, 0 = unbegrenzt
	HistoryLines  int           `json:"history_lines"`
}

// minStepLimit is the floor a busy server still grants every session.
const minStepLimit = 100000

// LimitsFromConfig liest die [Forth]-Sektion
func LimitsFromConfig() Limits {
	return Limits{
		MaxLineLength: configuration.GetInt("Forth", "max_line_length", 1024),
		MaxBatchLines: configuration.GetInt("Forth", "max_batch_lines", 2000),
		MaxSleep:      time.Duration(configuration.GetInt("Forth", "max_sleep_ms", 60000)) * time.Millisecond,
		MaxCallDepth:  configuration.GetInt("Forth", "max_call_depth", 1024),
		StepLimit:     configuration.GetInt("Forth", "step_limit", 10000000),
		HistoryLines:  configuration.GetInt("Forth", "history_lines", 2000),
	}
}

// Scaled teilt das Schrittbudget auf die aktiven Sessions auf, mit einer
// Mindestgarantie pro Session.
func (l Limits) Scaled(activeSessions int) Limits {
	if activeSessions <= 1 || l.StepLimit <= 0 {
		return l
	}
	steps := l.StepLimit / activeSessions
	if steps < minStepLimit {
		steps = minStepLimit
	}
	if steps < l.StepLimit {
		l.StepLimit = steps
	}
	return l
}
