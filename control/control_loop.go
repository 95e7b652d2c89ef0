package control

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/utils"
)

// MaxFrequency is the fastest rate a Loop will run at, in Hz.
const MaxFrequency = 200.0

// StepFunc is run once per cycle. dt is the nominal cycle time.
type StepFunc func(ctx context.Context, dt time.Duration)

// Loop runs a step function at a fixed rate. Each mechanism is driven by exactly one loop.
type Loop struct {
	mu        sync.Mutex
	logger    logging.Logger
	frequency float64
	dt        time.Duration
	step      StepFunc
	workers   *utils.Workers
	running   bool
	cycles    uint64
}

// NewLoop constructs a loop that calls step at frequency Hz.
func NewLoop(logger logging.Logger, frequency float64, step StepFunc) (*Loop, error) {
	if frequency <= 0 || frequency > MaxFrequency {
		return nil, errors.Errorf("loop frequency shouldn't be 0 or above %vHz, got %v", MaxFrequency, frequency)
	}
	if step == nil {
		return nil, errors.New("loop needs a step function")
	}
	return &Loop{
		logger:    logger,
		frequency: frequency,
		dt:        time.Duration(float64(time.Second) * (1.0 / frequency)),
		step:      step,
	}, nil
}

// Start runs the loop in the background until Stop is called or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("control loop already running")
	}
	l.logger.Infof("Running loop on %1.4fHz (%v)", l.frequency, l.dt)
	ticker := time.NewTicker(l.dt)
	l.workers = utils.NewWorkers(ctx, func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.runOnce(ctx)
			}
		}
	})
	l.running = true
	return nil
}

// RunCycles calls the step function n times back to back without waiting on the ticker.
// It is used to fast-forward simulations.
func (l *Loop) RunCycles(ctx context.Context, n int) error {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if running {
		return errors.New("cannot run cycles manually while the loop is running")
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.runOnce(ctx)
	}
	return nil
}

func (l *Loop) runOnce(ctx context.Context) {
	l.step(ctx, l.dt)
	l.mu.Lock()
	l.cycles++
	l.mu.Unlock()
}

// Stop stops the loop and waits for the running cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	workers := l.workers
	wasRunning := l.running
	l.running = false
	l.workers = nil
	l.mu.Unlock()
	if wasRunning {
		l.logger.Debug("closing loop")
		workers.Stop()
	}
}

// Running reports whether Start has been called without a matching Stop.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Period returns the time between cycles.
func (l *Loop) Period() time.Duration {
	return l.dt
}

// Frequency returns the loop's frequency.
func (l *Loop) Frequency() float64 {
	return l.frequency
}

// Cycles returns how many cycles have run.
func (l *Loop) Cycles() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}
