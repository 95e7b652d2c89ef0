// Package command contains the units of work mechanisms hand to the scheduler.
//
// A Command is initialized once, executed every cycle until it reports finished, and then ended.
// Commands never block: anything that waits does so by returning false from IsFinished.
package command

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// A Subsystem owns hardware. At most one scheduled command may require a given subsystem.
type Subsystem interface {
	Name() string
	// Periodic is called once per cycle before any command executes.
	Periodic(ctx context.Context)
}

// A Command is a unit of work run by a Scheduler.
type Command interface {
	Name() string
	Requirements() []Subsystem
	Initialize(ctx context.Context) error
	Execute(ctx context.Context) error
	IsFinished() bool
	End(ctx context.Context, interrupted bool)
}

// Func is a Command assembled from optional functions. A nil IsFinishedFunc never finishes.
type Func struct {
	CommandName    string
	Requires       []Subsystem
	InitializeFunc func(ctx context.Context) error
	ExecuteFunc    func(ctx context.Context) error
	IsFinishedFunc func() bool
	EndFunc        func(ctx context.Context, interrupted bool)
}

var _ Command = (*Func)(nil)

// Name returns the name of the command.
func (f *Func) Name() string {
	return f.CommandName
}

// Requirements returns the subsystems the command needs exclusive use of.
func (f *Func) Requirements() []Subsystem {
	return f.Requires
}

// Initialize runs InitializeFunc, if any.
func (f *Func) Initialize(ctx context.Context) error {
	if f.InitializeFunc == nil {
		return nil
	}
	return f.InitializeFunc(ctx)
}

// Execute runs ExecuteFunc, if any.
func (f *Func) Execute(ctx context.Context) error {
	if f.ExecuteFunc == nil {
		return nil
	}
	return f.ExecuteFunc(ctx)
}

// IsFinished reports IsFinishedFunc, or false if unset.
func (f *Func) IsFinished() bool {
	if f.IsFinishedFunc == nil {
		return false
	}
	return f.IsFinishedFunc()
}

// End runs EndFunc, if any.
func (f *Func) End(ctx context.Context, interrupted bool) {
	if f.EndFunc != nil {
		f.EndFunc(ctx, interrupted)
	}
}

// RunOnce runs action when initialized and finishes immediately.
func RunOnce(name string, action func(ctx context.Context) error, requirements ...Subsystem) Command {
	return &Func{
		CommandName:    name,
		Requires:       requirements,
		InitializeFunc: action,
		IsFinishedFunc: func() bool { return true },
	}
}

// Run runs action every cycle until interrupted.
func Run(name string, action func(ctx context.Context) error, requirements ...Subsystem) Command {
	return &Func{
		CommandName: name,
		Requires:    requirements,
		ExecuteFunc: action,
	}
}

// WaitUntil finishes once cond is true.
func WaitUntil(name string, cond func() bool) Command {
	return &Func{
		CommandName:    name,
		IsFinishedFunc: cond,
	}
}

// Wait finishes once d has elapsed on clk.
func Wait(clk clock.Clock, d time.Duration) Command {
	var start time.Time
	return &Func{
		CommandName: "wait " + d.String(),
		InitializeFunc: func(ctx context.Context) error {
			start = clk.Now()
			return nil
		},
		IsFinishedFunc: func() bool { return clk.Since(start) >= d },
	}
}

type timeout struct {
	Command
	clk      clock.Clock
	d        time.Duration
	start    time.Time
	timedOut bool
}

// WithTimeout finishes cmd early if it has not finished after d. A timed out command is ended as
// interrupted.
func WithTimeout(clk clock.Clock, d time.Duration, cmd Command) Command {
	return &timeout{Command: cmd, clk: clk, d: d}
}

func (t *timeout) Name() string {
	return t.Command.Name() + " (timeout " + t.d.String() + ")"
}

func (t *timeout) Initialize(ctx context.Context) error {
	t.start = t.clk.Now()
	t.timedOut = false
	return t.Command.Initialize(ctx)
}

func (t *timeout) IsFinished() bool {
	if t.Command.IsFinished() {
		return true
	}
	if t.clk.Since(t.start) >= t.d {
		t.timedOut = true
		return true
	}
	return false
}

func (t *timeout) End(ctx context.Context, interrupted bool) {
	t.Command.End(ctx, interrupted || t.timedOut)
}

// TimedOut reports whether the command was cut short by its timeout.
func TimedOut(cmd Command) bool {
	t, ok := cmd.(*timeout)
	return ok && t.timedOut
}
