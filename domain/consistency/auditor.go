// Package consistency closes the gaps a degraded dual write can leave
// between the two directions of a relationship.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/jobs"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
	"github.com/emergent-company/tether/pkg/tracing"
)

// maxDrainBatches bounds how much of the repair queue one run consumes.
const maxDrainBatches = 100

// Options tune one audit run.
type Options struct {
	DryRun    bool
	BatchSize int
}

// Auditor scans edges for the invariants the service maintains and
// repairs what it finds. Every fix is a conditional write against the
// state just read, so it never clobbers a concurrent user mutation.
type Auditor struct {
	store     relationships.Store
	directory relationships.Directory
	queue     *RepairQueue
	worker    *jobs.Worker
	defaults  Options
	now       func() time.Time
	log       *slog.Logger

	// transactional runs each reciprocal fix in a store transaction.
	transactional bool

	running sync.Mutex
}

// NewAuditor creates the auditor and its background repair worker.
func NewAuditor(store relationships.Store, directory relationships.Directory, queue *RepairQueue, cfg *config.Config, log *slog.Logger) *Auditor {
	a := &Auditor{
		store:     store,
		directory: directory,
		queue:     queue,
		defaults: Options{
			DryRun:    cfg.Audit.DryRun,
			BatchSize: cfg.Audit.BatchSize,
		},
		transactional: cfg.Relationships.TransactionalWrites,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.With(logger.Scope("consistency.auditor")),
	}
	a.worker = jobs.NewWorker(jobs.WorkerConfig{
		Name:         "relationship_repairs",
		PollInterval: cfg.Scheduler.RepairPollInterval,
	}, queue.Jobs(), func(ctx context.Context, id string) error {
		_, err := a.processRepair(ctx, id)
		return err
	}, queue.Attempts, log)
	return a
}

// Worker returns the background repair worker.
func (a *Auditor) Worker() *jobs.Worker {
	return a.worker
}

// Run drains the repair queue, then checks every accepted edge against its
// reciprocal, then clears device flags on edges that cannot carry them.
// Only one run executes at a time.
func (a *Auditor) Run(ctx context.Context, opts Options) (rep *Report, err error) {
	if !a.running.TryLock() {
		return nil, apperror.NewConflict("an audit is already running")
	}
	defer a.running.Unlock()

	if opts.BatchSize <= 0 {
		opts.BatchSize = a.defaults.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	ctx, span := tracing.Start(ctx, "consistency.audit")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			tracing.RecordError(span, err)
		}
		auditRunsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	rep = &Report{DryRun: opts.DryRun, StartedAt: a.now()}
	a.log.Info("audit started", slog.Bool("dry_run", opts.DryRun), slog.Int("batch_size", opts.BatchSize))

	if !opts.DryRun {
		if err := a.drain(ctx, rep); err != nil {
			return rep, err
		}
	}
	if err := a.scanAccepted(ctx, rep, opts); err != nil {
		return rep, err
	}
	if err := a.scanDeviceFlags(ctx, rep, opts); err != nil {
		return rep, err
	}

	rep.FinishedAt = a.now()
	for _, f := range rep.Findings {
		auditFindingsTotal.WithLabelValues(string(f.Kind), f.result(opts.DryRun)).Inc()
	}
	a.recordQueueDepth(ctx)

	a.log.Info("audit finished",
		slog.Int("scanned", rep.Scanned),
		slog.Int("findings", len(rep.Findings)),
		slog.Int("applied", rep.Applied()),
		slog.Int("skipped", rep.Skipped()),
		slog.Int("repairs_completed", rep.Repairs.Completed),
		slog.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, nil
}

// drain works the repair queue through a run-scoped worker so the fixes it
// makes land in the report.
func (a *Auditor) drain(ctx context.Context, rep *Report) error {
	w := jobs.NewWorker(jobs.WorkerConfig{Name: "audit_drain"}, a.queue.Jobs(),
		func(ctx context.Context, id string) error {
			fs, err := a.processRepair(ctx, id)
			rep.add(fs...)
			return err
		}, a.queue.Attempts, a.log)

	for i := 0; i < maxDrainBatches; i++ {
		res, err := w.ProcessBatch(ctx)
		if err != nil {
			return fmt.Errorf("drain repair queue: %w", err)
		}
		rep.Repairs.Claimed += res.Claimed
		rep.Repairs.Completed += res.Completed
		rep.Repairs.Failed += res.Failed
		if res.Claimed == 0 {
			break
		}
	}
	return nil
}

func (a *Auditor) scanAccepted(ctx context.Context, rep *Report, opts Options) error {
	after := ""
	for {
		edges, err := a.store.List(ctx, relationships.Filter{
			Statuses:       []relationships.Status{relationships.StatusAccepted},
			IncludeDeleted: true,
			AfterID:        after,
			Limit:          opts.BatchSize,
		})
		if err != nil {
			return err
		}
		for _, e := range edges {
			fs, err := a.checkAccepted(ctx, e, opts.DryRun)
			if err != nil {
				return err
			}
			rep.add(fs...)
		}
		rep.Scanned += len(edges)
		if len(edges) < opts.BatchSize {
			return nil
		}
		after = edges[len(edges)-1].ID
	}
}

// scanDeviceFlags clears the device flag wherever the origin or status
// rules it out.
func (a *Auditor) scanDeviceFlags(ctx context.Context, rep *Report, opts Options) error {
	flagged := true
	filters := []relationships.Filter{
		{DeviceContact: &flagged, ExcludeOrigins: []relationships.Origin{relationships.OriginDeviceContact}, IncludeDeleted: true},
		{DeviceContact: &flagged, Origins: []relationships.Origin{relationships.OriginDeviceContact}, Statuses: []relationships.Status{relationships.StatusBlocked}},
	}
	for _, f := range filters {
		f.Limit = opts.BatchSize
		for {
			edges, err := a.store.List(ctx, f)
			if err != nil {
				return err
			}
			for _, e := range edges {
				finding := Finding{Kind: KindDeviceFlag, OwnerID: e.OwnerID, TargetID: e.TargetID, Action: ActionClearDeviceFlag}
				if !opts.DryRun {
					n, err := a.store.ClearDeviceFlags(ctx, []string{e.ID}, a.now())
					if err != nil {
						return err
					}
					finding.settle(n == 1)
				}
				rep.add(finding)
			}
			if len(edges) < f.Limit {
				break
			}
			f.AfterID = edges[len(edges)-1].ID
		}
	}
	return nil
}

// checkAccepted applies the pairwise checks to one accepted edge, most
// severe first. Device-contact edges are legitimately unilateral and only
// get their own row checked.
func (a *Auditor) checkAccepted(ctx context.Context, e *relationships.Edge, dryRun bool) ([]Finding, error) {
	var out []Finding
	now := a.now()

	if e.IsDeleted {
		f := Finding{Kind: KindDeletedMismatch, OwnerID: e.OwnerID, TargetID: e.TargetID, Action: ActionUndelete}
		if !dryRun {
			e.Normalize(now)
			ok, err := a.store.UpdateIf(ctx, e, relationships.StatusAccepted)
			if err != nil {
				return nil, err
			}
			f.settle(ok)
		}
		out = append(out, f)
	}
	if e.Origin == relationships.OriginDeviceContact {
		return out, nil
	}

	rec, err := a.store.Get(ctx, e.TargetID, e.OwnerID)
	if err != nil {
		return nil, err
	}

	var f Finding
	switch {
	case rec == nil:
		f = Finding{Kind: KindMissingReciprocal, Action: ActionCreateReciprocal}
	case rec.Status == relationships.StatusRemoved:
		f = Finding{Kind: KindDeletedMismatch, Action: ActionRestore}
	case rec.Status == relationships.StatusPending:
		f = Finding{Kind: KindStatusMismatch, Action: ActionAccept}
	default:
		// accepted reciprocals are checked on their own turn; blocks win.
		return out, nil
	}
	f.OwnerID, f.TargetID = e.TargetID, e.OwnerID

	if !dryRun {
		ok, err := a.fixReciprocal(ctx, e, rec, now)
		if err != nil {
			return nil, err
		}
		f.settle(ok)
	}
	return append(out, f), nil
}

// fixReciprocal writes the reverse of e after re-reading e, so a removal
// committed since the scan read it is not undone. With transactional writes
// the re-read and the write share one transaction.
func (a *Auditor) fixReciprocal(ctx context.Context, e, rec *relationships.Edge, now time.Time) (bool, error) {
	snap := a.snapshot(ctx, e.OwnerID, now)

	if a.transactional {
		var applied bool
		err := a.store.RunInTx(ctx, func(ctx context.Context, tx relationships.Store) error {
			var txErr error
			applied, txErr = writeReciprocal(ctx, tx, e, rec, snap, now)
			return txErr
		})
		if !errors.Is(err, relationships.ErrNoTransactions) {
			return applied, err
		}
	}
	return writeReciprocal(ctx, a.store, e, rec, snap, now)
}

// writeReciprocal creates or accepts the reverse of e while e is still
// accepted. An existing reverse row is only written while it still holds
// the status it was read with.
func writeReciprocal(ctx context.Context, st relationships.Store, e, rec *relationships.Edge, snap relationships.Snapshot, now time.Time) (bool, error) {
	cur, err := st.Get(ctx, e.OwnerID, e.TargetID)
	if err != nil {
		return false, err
	}
	if cur == nil || cur.Status != relationships.StatusAccepted {
		return false, nil
	}

	if rec == nil {
		rec = &relationships.Edge{
			ID:             uuid.NewString(),
			OwnerID:        e.TargetID,
			TargetID:       e.OwnerID,
			Origin:         e.Origin,
			CachedSnapshot: snap,
			AddedAt:        now,
		}
		rec.Accept(now)
		return st.InsertIfAbsent(ctx, rec)
	}

	prev := rec.Status
	rec.Origin = e.Origin
	rec.IsDeviceContact = false
	rec.CachedSnapshot = snap
	rec.AddedAt = now
	rec.Accept(now)
	return st.UpdateIf(ctx, rec, prev)
}

// snapshot mirrors the live profile; a failed lookup leaves a zero snapshot
// that read-repair replaces on the next friends listing.
func (a *Auditor) snapshot(ctx context.Context, userID string, now time.Time) relationships.Snapshot {
	u, err := a.directory.GetByID(ctx, userID)
	if err != nil {
		a.log.Debug("snapshot lookup failed", slog.String("user_id", userID), logger.Error(err))
		return relationships.Snapshot{}
	}
	return relationships.SnapshotOf(u, now)
}

// RepairPair repairs the edge ownerID->targetID toward intent. With intent
// accepted the reverse edge must still be accepted for anything to happen;
// with intent removed the edge is removed unless the pair was re-accepted
// since. An empty intent checks both directions.
func (a *Auditor) RepairPair(ctx context.Context, ownerID, targetID string, intent relationships.Status) (rep *Report, err error) {
	ctx, span := tracing.Start(ctx, "consistency.repair_pair", tracing.Pair(ownerID, targetID)...)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		}
		span.End()
	}()

	if ownerID == "" || targetID == "" || ownerID == targetID {
		return nil, apperror.NewValidation("two distinct user ids are required")
	}

	rep = &Report{StartedAt: a.now()}
	fs, err := a.repairPair(ctx, ownerID, targetID, intent)
	if err != nil {
		return nil, err
	}
	rep.add(fs...)
	rep.FinishedAt = a.now()
	for _, f := range rep.Findings {
		auditFindingsTotal.WithLabelValues(string(f.Kind), f.result(false)).Inc()
	}
	return rep, nil
}

func (a *Auditor) repairPair(ctx context.Context, ownerID, targetID string, intent relationships.Status) ([]Finding, error) {
	switch intent {
	case relationships.StatusAccepted:
		return a.checkIfActive(ctx, targetID, ownerID)
	case relationships.StatusRemoved:
		return a.completeRemoval(ctx, ownerID, targetID)
	case "":
		out, err := a.checkIfActive(ctx, ownerID, targetID)
		if err != nil {
			return nil, err
		}
		more, err := a.checkIfActive(ctx, targetID, ownerID)
		if err != nil {
			return nil, err
		}
		return append(out, more...), nil
	default:
		return nil, apperror.NewValidation("intent must be accepted or removed")
	}
}

func (a *Auditor) checkIfActive(ctx context.Context, ownerID, targetID string) ([]Finding, error) {
	e, err := a.store.Get(ctx, ownerID, targetID)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Status != relationships.StatusAccepted {
		return nil, nil
	}
	return a.checkAccepted(ctx, e, false)
}

// completeRemoval removes a side a removal left accepted.
func (a *Auditor) completeRemoval(ctx context.Context, ownerID, targetID string) ([]Finding, error) {
	side, err := a.store.Get(ctx, ownerID, targetID)
	if err != nil {
		return nil, err
	}
	if side == nil || side.Status != relationships.StatusAccepted {
		return nil, nil
	}
	other, err := a.store.Get(ctx, targetID, ownerID)
	if err != nil {
		return nil, err
	}
	if other.Active() {
		return nil, nil
	}

	f := Finding{Kind: KindStaleAccepted, OwnerID: ownerID, TargetID: targetID, Action: ActionRemove}
	side.Remove(a.now())
	ok, err := a.store.UpdateIf(ctx, side, relationships.StatusAccepted)
	if err != nil {
		return nil, err
	}
	f.settle(ok)
	return []Finding{f}, nil
}

// processRepair handles one claimed queue row.
func (a *Auditor) processRepair(ctx context.Context, id string) ([]Finding, error) {
	r, err := a.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	fs, err := a.repairPair(ctx, r.OwnerID, r.TargetID, r.Intent)
	if err != nil {
		return nil, err
	}
	a.log.Info("repair processed",
		slog.String("repair_id", r.ID),
		slog.String("intent", string(r.Intent)),
		slog.Int("findings", len(fs)))
	return fs, nil
}

func (a *Auditor) recordQueueDepth(ctx context.Context) {
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		a.log.Warn("repair queue stats failed", logger.Error(err))
		return
	}
	repairQueueDepth.WithLabelValues(string(jobs.StatusPending)).Set(float64(stats.Pending))
	repairQueueDepth.WithLabelValues(string(jobs.StatusProcessing)).Set(float64(stats.Processing))
	repairQueueDepth.WithLabelValues(string(jobs.StatusFailed)).Set(float64(stats.Failed))
}
