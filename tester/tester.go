// Package tester runs hardware self-tests: current draw checks on single motors and setpoint
// checks on whole mechanisms. Tests are grouped by system and run as ordinary commands.
package tester

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/logging"
)

// Result is the outcome of a unit test.
type Result int

const (
	// Pending means the test has not run.
	Pending Result = iota
	// Running means the test command is scheduled.
	Running
	// Passed means the last run met expectations.
	Passed
	// Failed means the last run did not.
	Failed
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText encodes the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnitTest is a registerable self-test.
type UnitTest interface {
	Name() string
	// Command returns the command that runs the test and records its result.
	Command() command.Command
	Result() Result
}

// Tester groups unit tests by system.
type Tester struct {
	mu      sync.Mutex
	logger  logging.Logger
	systems map[string][]UnitTest
}

// New returns an empty tester.
func New(logger logging.Logger) *Tester {
	return &Tester{logger: logger, systems: map[string][]UnitTest{}}
}

// AddTest registers test under system. Names must be unique within a system.
func (t *Tester) AddTest(system string, test UnitTest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lo.ContainsBy(t.systems[system], func(u UnitTest) bool { return u.Name() == test.Name() }) {
		return errors.Errorf("system %s already has a test named %s", system, test.Name())
	}
	t.systems[system] = append(t.systems[system], test)
	t.logger.Debugw("test registered", "system", system, "test", test.Name())
	return nil
}

// Systems returns the system names, sorted.
func (t *Tester) Systems() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := lo.Keys(t.systems)
	sort.Strings(names)
	return names
}

// Tests returns the tests registered for system in registration order.
func (t *Tester) Tests(system string) []UnitTest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]UnitTest(nil), t.systems[system]...)
}

// Command runs every test of system in order.
func (t *Tester) Command(system string) (command.Command, error) {
	tests := t.Tests(system)
	if len(tests) == 0 {
		return nil, errors.Errorf("no tests registered for %s", system)
	}
	return command.Sequence(lo.Map(tests, func(u UnitTest, _ int) command.Command { return u.Command() })...), nil
}

// Report returns every test result by system and test name.
func (t *Tester) Report() map[string]map[string]Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.MapValues(t.systems, func(tests []UnitTest, _ string) map[string]Result {
		return lo.SliceToMap(tests, func(u UnitTest) (string, Result) { return u.Name(), u.Result() })
	})
}

// Passed reports whether every registered test has passed.
func (t *Tester) Passed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tests := range t.systems {
		for _, u := range tests {
			if u.Result() != Passed {
				return false
			}
		}
	}
	return true
}
