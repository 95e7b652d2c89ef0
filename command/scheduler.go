package command

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/team3128/robot/logging"
)

// Scheduler runs commands cooperatively, one Run per control cycle. Scheduling a command that
// requires a subsystem already in use interrupts the command using it. Commands must not call
// back into the scheduler.
type Scheduler struct {
	mu         sync.Mutex
	logger     logging.Logger
	subsystems []Subsystem
	scheduled  []Command
	cycles     int64
}

// NewScheduler returns an empty scheduler.
func NewScheduler(logger logging.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// RegisterSubsystem adds subsystems whose Periodic runs every cycle.
func (s *Scheduler) RegisterSubsystem(subsystems ...Subsystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subsystems {
		if !lo.Contains(s.subsystems, sub) {
			s.subsystems = append(s.subsystems, sub)
		}
	}
}

// Schedule initializes cmd and runs it from the next cycle on. Scheduling a command that is
// already running does nothing.
func (s *Scheduler) Schedule(ctx context.Context, cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo.Contains(s.scheduled, cmd) {
		return
	}
	reqs := cmd.Requirements()
	s.scheduled = lo.Filter(s.scheduled, func(running Command, _ int) bool {
		if len(lo.Intersect(running.Requirements(), reqs)) == 0 {
			return true
		}
		s.logger.Debugw("interrupting command", "command", running.Name(), "by", cmd.Name())
		running.End(ctx, true)
		return false
	})
	s.logger.Debugw("scheduling command", "command", cmd.Name())
	if err := cmd.Initialize(ctx); err != nil {
		s.logger.Warnw("command failed to initialize", "command", cmd.Name(), "error", err)
	}
	s.scheduled = append(s.scheduled, cmd)
}

// Cancel interrupts cmd if it is scheduled.
func (s *Scheduler) Cancel(ctx context.Context, cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !lo.Contains(s.scheduled, cmd) {
		return
	}
	cmd.End(ctx, true)
	s.scheduled = lo.Without(s.scheduled, cmd)
}

// CancelAll interrupts every scheduled command.
func (s *Scheduler) CancelAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.scheduled {
		cmd.End(ctx, true)
	}
	s.scheduled = nil
}

// IsScheduled reports whether cmd is running.
func (s *Scheduler) IsScheduled(cmd Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Contains(s.scheduled, cmd)
}

// Scheduled returns the names of the running commands.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.scheduled, func(c Command, _ int) string { return c.Name() })
}

// Cycles returns how many times Run has been called.
func (s *Scheduler) Cycles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Run performs one cycle: subsystem periodics, then each command's Execute. Finished commands are
// ended and removed. Command errors are logged and never stop the cycle.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	for _, sub := range s.subsystems {
		sub.Periodic(ctx)
	}
	remaining := s.scheduled[:0]
	for _, cmd := range s.scheduled {
		if err := cmd.Execute(ctx); err != nil {
			s.logger.Warnw("command failed", "command", cmd.Name(), "error", err)
		}
		if cmd.IsFinished() {
			cmd.End(ctx, false)
			s.logger.Debugw("command finished", "command", cmd.Name())
			continue
		}
		remaining = append(remaining, cmd)
	}
	s.scheduled = remaining
}
