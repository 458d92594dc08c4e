package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/logging"
)

// Runner runs one sync round. *Engine implements it.
type Runner interface {
	Run(ctx context.Context) (*RoundReport, error)
}

// TriggerConfig contains configuration options for the trigger.
type TriggerConfig struct {
	DebounceDelay     time.Duration // Quiet period after a request before a round starts
	InitialBackoff    time.Duration // First retry delay after a failed round
	MaxBackoff        time.Duration // Upper bound for retry delays
	BackoffMultiplier float64
	BackoffJitter     float64 // Randomization factor, 0 for exact delays
	Logger            *logging.Logger
}

// DefaultTriggerConfig returns the default trigger configuration.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		DebounceDelay:     2 * time.Second,
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2,
		BackoffJitter:     0.2,
	}
}

type triggerState int

const (
	triggerIdle triggerState = iota
	triggerScheduled
	triggerRunning
)

var errTriggerStopped = errors.New("sync trigger stopped")

// Trigger turns change notifications into debounced, single-flight sync
// rounds. Requests while a round is scheduled are coalesced into it.
// Requests while a round runs mark the trigger dirty, which schedules
// exactly one follow-up round.
type Trigger struct {
	runner  Runner
	clock   clock.Clock
	config  TriggerConfig
	logger  *logging.Logger
	backoff *backoff.ExponentialBackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     triggerState
	dirty     bool
	stopped   bool
	timer     clock.Timer
	pollTimer clock.Timer
	onRound   func(*RoundReport, error)
	rounds    int
}

// NewTrigger creates an idle trigger.
func NewTrigger(runner Runner, clk clock.Clock, config TriggerConfig) *Trigger {
	defaults := DefaultTriggerConfig()
	if config.DebounceDelay < 0 {
		config.DebounceDelay = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if clk == nil {
		clk = clock.New()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialBackoff
	b.MaxInterval = config.MaxBackoff
	b.Multiplier = config.BackoffMultiplier
	b.RandomizationFactor = config.BackoffJitter
	b.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Trigger{
		runner:  runner,
		clock:   clk,
		config:  config,
		logger:  config.Logger,
		backoff: b,
		ctx:     ctx,
		cancel:  cancel,
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	return t
}

// SetOnRound registers a function called after every round the trigger runs.
func (t *Trigger) SetOnRound(fn func(*RoundReport, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRound = fn
}

// Request asks for a sync round. It never blocks on a running round and is
// safe to call from any goroutine.
func (t *Trigger) Request() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	switch t.state {
	case triggerIdle:
		t.scheduleLocked(t.config.DebounceDelay, "change")
	case triggerRunning:
		t.dirty = true
	}
}

// RunNow runs a round immediately under the same single-flight guard. A
// scheduled round is absorbed into it. If a round is already running the
// request is recorded as dirty and ErrSyncInProgress is returned.
func (t *Trigger) RunNow(ctx context.Context) (*RoundReport, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, errTriggerStopped
	}
	if t.state == triggerRunning {
		t.dirty = true
		t.mu.Unlock()
		return nil, domainErrors.ErrSyncInProgress
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = triggerRunning
	t.dirty = false
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	report, err := t.runner.Run(ctx)
	t.complete(report, err)
	return report, err
}

// StartPolling requests a round every interval so remote changes arrive
// without local edits. It is a no-op when interval is not positive.
func (t *Trigger) StartPolling(interval time.Duration) {
	if interval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.pollTimer != nil {
		return
	}
	t.pollLocked(interval)
}

func (t *Trigger) pollLocked(interval time.Duration) {
	t.pollTimer = t.clock.AfterFunc(interval, func() {
		t.Request()
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.stopped {
			t.pollLocked(interval)
		}
	})
}

// Stop cancels any scheduled round and polling, and waits for a running
// round to finish. Requests after Stop are ignored.
func (t *Trigger) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.pollTimer != nil {
		t.pollTimer.Stop()
		t.pollTimer = nil
	}
	if t.state == triggerScheduled {
		t.state = triggerIdle
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.cancel()
}

// Rounds returns how many rounds the trigger has run.
func (t *Trigger) Rounds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rounds
}

// Pending reports whether a round is scheduled or running.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != triggerIdle
}

// scheduleLocked arms the timer. Caller holds t.mu.
func (t *Trigger) scheduleLocked(delay time.Duration, reason string) {
	t.state = triggerScheduled
	t.timer = t.clock.AfterFunc(delay, t.fire)
	logging.LogSyncScheduled(t.ctx, t.logger, delay, reason)
}

func (t *Trigger) fire() {
	t.mu.Lock()
	if t.stopped || t.state != triggerScheduled {
		t.mu.Unlock()
		return
	}
	t.state = triggerRunning
	t.dirty = false
	t.timer = nil
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	report, err := t.runner.Run(t.ctx)
	t.complete(report, err)
}

// complete moves the trigger out of the running state after a round.
func (t *Trigger) complete(report *RoundReport, err error) {
	t.mu.Lock()
	t.rounds++
	cb := t.onRound

	switch {
	case t.stopped:
		t.state = triggerIdle
	case errors.Is(err, domainErrors.ErrSyncInProgress):
		// the engine was busy with a round started elsewhere
		t.dirty = false
		t.scheduleLocked(t.config.DebounceDelay, "busy")
	case err != nil:
		// pending requests are served by the retry
		t.dirty = false
		delay := t.backoff.NextBackOff()
		if delay < 0 {
			delay = t.config.MaxBackoff
		}
		t.scheduleLocked(delay, "retry")
	default:
		t.backoff.Reset()
		if t.dirty {
			t.dirty = false
			t.scheduleLocked(0, "dirty")
		} else {
			t.state = triggerIdle
		}
	}
	t.mu.Unlock()

	if cb != nil {
		cb(report, err)
	}
}
