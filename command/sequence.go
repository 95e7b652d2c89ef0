package command

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// sequence runs its steps in order. cursor indexes the running step; a step is initialized only
// after the previous one has finished and been ended.
type sequence struct {
	steps  []Command
	cursor int
}

// Sequence returns a command that runs steps one after another.
func Sequence(steps ...Command) Command {
	return &sequence{steps: steps}
}

func (s *sequence) Name() string {
	names := lo.Map(s.steps, func(c Command, _ int) string { return c.Name() })
	return "sequence(" + strings.Join(names, ", ") + ")"
}

func (s *sequence) Requirements() []Subsystem {
	return lo.Uniq(lo.FlatMap(s.steps, func(c Command, _ int) []Subsystem { return c.Requirements() }))
}

func (s *sequence) Initialize(ctx context.Context) error {
	s.cursor = 0
	if len(s.steps) == 0 {
		return nil
	}
	return s.steps[0].Initialize(ctx)
}

func (s *sequence) Execute(ctx context.Context) error {
	if s.cursor >= len(s.steps) {
		return nil
	}
	cur := s.steps[s.cursor]
	err := cur.Execute(ctx)
	if !cur.IsFinished() {
		return err
	}
	cur.End(ctx, false)
	s.cursor++
	if s.cursor < len(s.steps) {
		err = multierr.Combine(err, s.steps[s.cursor].Initialize(ctx))
	}
	return err
}

func (s *sequence) IsFinished() bool {
	return s.cursor >= len(s.steps)
}

func (s *sequence) End(ctx context.Context, interrupted bool) {
	if interrupted && s.cursor < len(s.steps) {
		s.steps[s.cursor].End(ctx, true)
	}
}

// Step returns the index of the running step.
func Step(cmd Command) (int, bool) {
	s, ok := cmd.(*sequence)
	if !ok {
		return 0, false
	}
	return s.cursor, true
}
