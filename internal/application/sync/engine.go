// Package sync runs replication rounds between the local store and a remote
// store, and schedules them in response to local edits.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/tracing"
)

// State is the engine's position within a round.
type State string

const (
	StateIdle        State = "idle"
	StateCollecting  State = "collecting"
	StatePushing     State = "pushing"
	StatePulling     State = "pulling"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Observer is told about every state transition.
type Observer func(from, to State)

// StoreSource hands the engine the remote store to use for a round. The
// returned store has just answered IsAvailable.
type StoreSource interface {
	GetPrimary(ctx context.Context) (ports.RemoteStorePort, error)
}

type staticSource struct {
	store ports.RemoteStorePort
}

func (s staticSource) GetPrimary(ctx context.Context) (ports.RemoteStorePort, error) {
	ok, err := s.store.IsAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeExternalService, "remote store is not reachable", domainErrors.ErrRemoteUnavailable),
			"store", s.store.Name())
	}
	return s.store, nil
}

// StaticSource always returns store, once it answers a ping.
func StaticSource(store ports.RemoteStorePort) StoreSource {
	return staticSource{store: store}
}

// RoundReport summarizes one sync round.
type RoundReport struct {
	RoundID   string
	Store     string
	Status    State // StateDone or StateFailed
	Step      string
	Queued    int // Queue entries in the snapshot
	Coalesced int // Net changes pushed or attempted
	Pushed    int // Writes the remote accepted
	Rejected  int // Writes the remote refused as stale
	Skipped   int // Changes whose entity no longer exists locally
	Pulled    int // Inbound records reconciled
	Applied   int // Inbound records written locally
	KeptLocal int // Inbound records older than the local row
	Invalid   int // Inbound records that could not be decoded
	Missing   int // Inbound records whose binary object is gone

	Conflicts  int // Entities changed both locally and by another device
	RemoteWins int
	LocalWins  int

	Checkpoint time.Time
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Error      error
}

// Status describes the sync state for display.
type Status struct {
	State           State
	DeviceID        string
	Queued          int
	MaxRetry        int
	Degraded        bool // Some change has failed RetryWarnThreshold times
	LastSync        time.Time
	LastLocalChange time.Time
	LastCloud       time.Time
	SyncVersion     int64
	Unsynced        bool
	LastRound       *RoundReport
}

// EngineConfig contains configuration options for the engine.
type EngineConfig struct {
	DeviceID           string        // Used when the store has no device ID yet
	CallTimeout        time.Duration // Deadline for each remote call
	RetryWarnThreshold int           // Failures before a change is reported as stuck
	Logger             *logging.Logger
	Tracer             *tracing.Tracer
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CallTimeout:        30 * time.Second,
		RetryWarnThreshold: 5,
	}
}

// Engine runs sync rounds. At most one round runs at a time.
type Engine struct {
	tx       ports.TransactorPort
	source   StoreSource
	clock    clock.Clock
	config   EngineConfig
	logger   *logging.Logger
	tracer   *tracing.Tracer
	handlers map[domainSync.EntityType]ports.EntitySyncPort

	running atomic.Bool

	mu       sync.RWMutex
	state    State
	observer Observer
	last     *RoundReport
}

// NewEngine creates an engine replicating the entity kinds handled by handlers.
func NewEngine(tx ports.TransactorPort, source StoreSource, clk clock.Clock, config EngineConfig, handlers ...ports.EntitySyncPort) *Engine {
	defaults := DefaultEngineConfig()
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.RetryWarnThreshold <= 0 {
		config.RetryWarnThreshold = defaults.RetryWarnThreshold
	}
	if clk == nil {
		clk = clock.New()
	}

	e := &Engine{
		tx:       tx,
		source:   source,
		clock:    clk,
		config:   config,
		logger:   config.Logger,
		tracer:   config.Tracer,
		handlers: make(map[domainSync.EntityType]ports.EntitySyncPort, len(handlers)),
		state:    StateIdle,
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	if e.tracer == nil {
		e.tracer = tracing.Default()
	}
	for _, h := range handlers {
		e.handlers[h.EntityType()] = h
	}
	return e
}

// SetObserver registers a function called on every state transition.
func (e *Engine) SetObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastRound returns the report of the most recent round, or nil.
func (e *Engine) LastRound() *RoundReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	from := e.state
	e.state = s
	obs := e.observer
	e.mu.Unlock()

	if obs != nil && from != s {
		obs(from, s)
	}
}

// Run performs one round: push queued changes, pull remote changes since the
// checkpoint, reconcile them, then retire the pushed entries and advance the
// checkpoint. On failure nothing is retired, the checkpoint stays put and
// every snapshot entry's retry count goes up.
func (e *Engine) Run(ctx context.Context) (*RoundReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, domainErrors.ErrSyncInProgress
	}
	defer e.running.Store(false)

	r := &round{
		engine: e,
		report: &RoundReport{
			RoundID:   uuid.New().String(),
			StartTime: e.clock.Now(),
		},
	}
	ctx = logging.WithRoundID(ctx, r.report.RoundID)

	err := r.run(ctx)
	r.finish(ctx, err)

	e.mu.Lock()
	e.last = r.report
	e.mu.Unlock()

	if err != nil {
		e.setState(StateFailed)
		e.setState(StateIdle)
		return r.report, r.report.Error
	}
	e.setState(StateDone)
	e.setState(StateIdle)
	return r.report, nil
}

// Status reports the queue and checkpoint.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	repos := e.tx.Repos()
	meta, err := repos.Metadata.GetOrCreate(ctx, e.config.DeviceID)
	if err != nil {
		return nil, err
	}
	queued, err := repos.Changes.Count(ctx)
	if err != nil {
		return nil, err
	}
	maxRetry, err := repos.Changes.MaxRetryCount(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		State:           e.State(),
		DeviceID:        meta.DeviceID,
		Queued:          queued,
		MaxRetry:        maxRetry,
		Degraded:        maxRetry >= e.config.RetryWarnThreshold,
		LastSync:        meta.LastSyncTimestamp,
		LastLocalChange: meta.LastLocalChangeTimestamp,
		LastCloud:       meta.LastCloudTimestamp,
		SyncVersion:     meta.SyncVersion,
		Unsynced:        meta.HasUnsyncedChanges() || queued > 0,
		LastRound:       e.LastRound(),
	}, nil
}

// round holds the state of one Run.
type round struct {
	engine   *Engine
	report   *RoundReport
	meta     *domainSync.Metadata
	snapshot []*domainSync.PendingChange
	store    ports.RemoteStorePort
	span     *tracing.RoundSpan
}

func (r *round) run(ctx context.Context) error {
	e := r.engine
	repos := e.tx.Repos()

	r.report.Step = "collect"
	e.setState(StateCollecting)

	meta, err := repos.Metadata.GetOrCreate(ctx, e.config.DeviceID)
	if err != nil {
		return err
	}
	r.meta = meta
	ctx = logging.WithDeviceID(ctx, meta.DeviceID)

	snapshot, err := repos.Changes.ListAll(ctx)
	if err != nil {
		return err
	}
	r.snapshot = snapshot
	r.report.Queued = len(snapshot)

	if err := r.connect(ctx); err != nil {
		return err
	}
	ctx, r.span = e.tracer.StartRoundSpan(ctx, r.report.RoundID, meta.DeviceID, r.store.Name())
	logging.LogRoundStart(ctx, e.logger, r.store.Name(), len(snapshot))

	coalesced := domainSync.Coalesce(snapshot)
	outbound := domainSync.OutboundDelta(coalesced, meta)
	r.report.Coalesced = outbound.Len()

	r.report.Step = "push"
	e.setState(StatePushing)
	stale, err := r.push(ctx, coalesced)
	if err != nil {
		return err
	}

	r.report.Step = "pull"
	e.setState(StatePulling)
	delta, err := r.pull(ctx)
	if err != nil {
		return err
	}

	r.report.Step = "reconcile"
	e.setState(StateReconciling)
	e.logger.DebugContext(ctx, "reconciling delta",
		"outbound", outbound.Len(),
		"inbound", delta.Len(),
		"stale", len(stale),
		"remote_version", delta.SyncVersion,
		"remote_modified", delta.LastLocalChangeTimestamp,
	)
	if err := r.reconcile(ctx, mergeInbound(delta, stale), outbound); err != nil {
		return err
	}

	r.report.Step = "complete"
	next := meta.Advance(e.clock.Now(), delta.Checkpoint)
	err = e.tx.InTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		if err := repos.Changes.RemoveByIDs(ctx, domainSync.SourceIDs(coalesced)); err != nil {
			return err
		}
		return repos.Metadata.AdvanceCheckpoint(ctx, next)
	})
	if err != nil {
		return err
	}
	r.report.Checkpoint = next.LastCloudTimestamp
	return nil
}

// connect asks the source for a reachable store.
func (r *round) connect(ctx context.Context) error {
	e := r.engine

	var store ports.RemoteStorePort
	err := e.call(ctx, func(ctx context.Context) error {
		s, err := e.source.GetPrimary(ctx)
		store = s
		return err
	})
	if err != nil {
		return err
	}
	r.store = store
	r.report.Store = store.Name()
	return nil
}

// push publishes each coalesced change and returns the records that beat
// rejected writes.
func (r *round) push(ctx context.Context, coalesced []*domainSync.CoalescedChange) ([]*domainSync.RemoteRecord, error) {
	e := r.engine
	ctx, span := e.tracer.StartStepSpan(ctx, "push", len(coalesced))

	var stale []*domainSync.RemoteRecord
	for _, c := range coalesced {
		current, err := r.pushOne(ctx, c)
		if err != nil {
			span.EndWithError(err)
			return nil, err
		}
		if current != nil {
			stale = append(stale, current)
		}
	}
	span.End()
	return stale, nil
}

func (r *round) pushOne(ctx context.Context, c *domainSync.CoalescedChange) (*domainSync.RemoteRecord, error) {
	e := r.engine
	h, err := e.handler(c.EntityType)
	if err != nil {
		return nil, err
	}

	rec := &domainSync.RemoteRecord{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		ModifiedAt: c.Timestamp,
		Deleted:    c.Operation == domainSync.OpDelete,
		DeviceID:   r.meta.DeviceID,
	}

	if !rec.Deleted {
		err := e.call(ctx, func(ctx context.Context) error {
			payload, err := h.PreparePush(ctx, c, r.store)
			rec.Payload = payload
			return err
		})
		if domainErrors.IsNotFound(err) {
			// deleted locally after the snapshot; its delete is still queued
			r.report.Skipped++
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	var stored *domainSync.RemoteRecord
	err = e.call(ctx, func(ctx context.Context) error {
		s, err := r.store.PutRecord(ctx, rec)
		stored = s
		return err
	})
	var staleErr *domainSync.StaleWriteError
	if errors.As(err, &staleErr) {
		r.report.Rejected++
		logging.LogPushRejected(ctx, e.logger, c.Key().String(), staleErr.Current.DeviceID, staleErr.Current.ModifiedAt)
		return staleErr.Current, nil
	}
	if err != nil {
		return nil, err
	}
	r.report.Pushed++

	if rec.Deleted {
		return nil, e.call(ctx, func(ctx context.Context) error {
			return h.PurgeRemote(ctx, c.EntityID, r.store)
		})
	}

	syncedAt := stored.ServerTime
	if syncedAt.IsZero() {
		syncedAt = e.clock.Now()
	}
	if err := h.MarkSynced(ctx, c.EntityID, stored.Version, syncedAt); err != nil && !domainErrors.IsNotFound(err) {
		return nil, err
	}
	return nil, nil
}

func (r *round) pull(ctx context.Context) (*domainSync.Delta, error) {
	e := r.engine
	since := r.meta.LastCloudTimestamp
	ctx, span := e.tracer.StartStepSpan(ctx, "pull", 0)

	var delta *domainSync.Delta
	err := e.call(ctx, func(ctx context.Context) error {
		d, err := r.store.ListChangedSince(ctx, since)
		delta = d
		return err
	})
	if err != nil {
		span.EndWithError(err)
		return nil, err
	}
	if delta == nil {
		delta = domainSync.NewDelta()
	}

	if delta.Len() > 0 && delta.Checkpoint.Before(since) {
		err := domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeSync, "remote checkpoint is older than the stored checkpoint", domainErrors.ErrCheckpointRegression),
			"stored", since.Format(time.RFC3339Nano))
		span.EndWithError(err)
		return nil, err
	}
	span.End()
	return delta, nil
}

func (r *round) reconcile(ctx context.Context, inbound []*domainSync.RemoteRecord, outbound *domainSync.Delta) error {
	e := r.engine
	ctx, span := e.tracer.StartStepSpan(ctx, "reconcile", len(inbound))

	for _, rec := range inbound {
		h, err := e.handler(rec.EntityType)
		if err != nil {
			span.EndWithError(err)
			return err
		}

		var decision domainSync.Decision
		err = e.call(ctx, func(ctx context.Context) error {
			d, err := h.ApplyRemote(ctx, rec, r.store)
			decision = d
			return err
		})
		if domainErrors.IsValidation(err) {
			r.report.Invalid++
			e.logger.WarnContext(ctx, "skipping invalid remote record",
				"entity", rec.Key().String(),
				"error", err.Error(),
			)
			continue
		}
		if errors.Is(err, domainErrors.ErrObjectNotFound) {
			// the record names an object another device purged
			r.report.Missing++
			e.logger.WarnContext(ctx, "skipping remote record with missing object",
				"entity", rec.Key().String(),
				"error", err.Error(),
			)
			continue
		}
		if err != nil {
			span.EndWithError(err)
			return err
		}

		r.report.Pulled++
		switch decision {
		case domainSync.DecisionApplyRemote:
			r.report.Applied++
		case domainSync.DecisionKeepLocal:
			r.report.KeptLocal++
		}

		if outbound.Contains(rec.Key()) && rec.DeviceID != r.meta.DeviceID {
			r.report.Conflicts++
			switch decision {
			case domainSync.DecisionApplyRemote:
				r.report.RemoteWins++
			case domainSync.DecisionKeepLocal:
				r.report.LocalWins++
			}
		}
	}
	span.End()
	return nil
}

// finish closes the round: on failure it bumps retry counts and classifies
// the error, then logs and ends the span.
func (r *round) finish(ctx context.Context, err error) {
	e := r.engine
	rep := r.report
	rep.EndTime = e.clock.Now()
	rep.Duration = rep.EndTime.Sub(rep.StartTime)

	if err == nil {
		rep.Status = StateDone
		logging.LogRoundComplete(ctx, e.logger, rep.Pushed, rep.Pulled, rep.Conflicts, rep.Duration)
		if r.span != nil {
			r.span.SetCounts(rep.Queued, rep.Pushed, rep.Pulled, rep.Conflicts)
			r.span.End()
		}
		return
	}

	rep.Status = StateFailed
	rep.Error = classify(rep.Step, err)
	r.bumpRetries(ctx)
	logging.LogRoundFailed(ctx, e.logger, rep.Step, rep.Error, rep.Duration)
	if r.span != nil {
		r.span.SetCounts(rep.Queued, rep.Pushed, rep.Pulled, rep.Conflicts)
		r.span.EndWithError(rep.Error)
	}
}

// bumpRetries increments the retry count of every snapshot entry. It runs
// even when ctx was canceled so a timed out round still counts.
func (r *round) bumpRetries(ctx context.Context) {
	if len(r.snapshot) == 0 {
		return
	}
	e := r.engine
	ctx = context.WithoutCancel(ctx)
	changes := e.tx.Repos().Changes

	maxRetry := 0
	for _, c := range r.snapshot {
		if err := changes.IncrementRetry(ctx, c.ID); err != nil {
			e.logger.WarnContext(ctx, "could not record sync retry", "change_id", c.ID, "error", err.Error())
			continue
		}
		if c.RetryCount+1 > maxRetry {
			maxRetry = c.RetryCount + 1
		}
	}
	if maxRetry >= e.config.RetryWarnThreshold {
		logging.LogRetriesExhausted(ctx, e.logger, maxRetry, e.config.RetryWarnThreshold, len(r.snapshot))
	}
}

func (e *Engine) handler(t domainSync.EntityType) (ports.EntitySyncPort, error) {
	h, ok := e.handlers[t]
	if !ok {
		return nil, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeSync, "no sync handler for entity type", nil),
			"entity_type", string(t))
	}
	return h, nil
}

// call runs fn under the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// classify keeps errors that already carry a sync-relevant code and reports
// everything else as a remote failure.
func classify(step string, err error) error {
	switch domainErrors.CodeOf(err) {
	case domainErrors.CodeExternalService, domainErrors.CodeSync, domainErrors.CodeRepository:
		return err
	}
	return domainErrors.WithContext(
		domainErrors.NewError(domainErrors.CodeExternalService, "sync "+step+" failed", err),
		"step", step)
}

// mergeInbound returns the pulled records in apply order followed by any
// stale-write winners the pull did not already include.
func mergeInbound(delta *domainSync.Delta, stale []*domainSync.RemoteRecord) []*domainSync.RemoteRecord {
	records := delta.Records()
	index := make(map[domainSync.EntityKey]int, len(records))
	for i, rec := range records {
		index[rec.Key()] = i
	}
	for _, rec := range stale {
		if i, ok := index[rec.Key()]; ok {
			if rec.Version > records[i].Version {
				records[i] = rec
			}
			continue
		}
		index[rec.Key()] = len(records)
		records = append(records, rec)
	}
	return records
}
