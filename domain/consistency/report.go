package consistency

import (
	"time"

	"github.com/emergent-company/tether/internal/jobs"
)

// FindingKind classifies an inconsistency.
type FindingKind string

const (
	KindMissingReciprocal FindingKind = "missing_reciprocal"
	KindDeletedMismatch   FindingKind = "deleted_mismatch"
	KindStatusMismatch    FindingKind = "status_mismatch"
	KindDeviceFlag        FindingKind = "device_flag_mismatch"
	// KindStaleAccepted is an accepted side left behind by a removal.
	KindStaleAccepted FindingKind = "stale_accepted"
)

// Action is the fix applied for a finding.
type Action string

const (
	ActionCreateReciprocal Action = "create_reciprocal"
	ActionRestore          Action = "restore"
	ActionAccept           Action = "accept"
	ActionUndelete         Action = "undelete"
	ActionRemove           Action = "remove"
	ActionClearDeviceFlag  Action = "clear_device_flag"
)

// SkipLostRace marks a fix whose precondition no longer held at write time.
const SkipLostRace = "changed_concurrently"

// Finding is one inconsistency and what was done about it.
type Finding struct {
	Kind     FindingKind `json:"kind" yaml:"kind"`
	OwnerID  string      `json:"ownerId" yaml:"ownerId"`
	TargetID string      `json:"targetId" yaml:"targetId"`
	Action   Action      `json:"action" yaml:"action"`
	Applied  bool        `json:"applied" yaml:"applied"`
	Skipped  string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func (f *Finding) settle(applied bool) {
	f.Applied = applied
	if !applied {
		f.Skipped = SkipLostRace
	}
}

func (f Finding) result(dryRun bool) string {
	switch {
	case f.Applied:
		return "applied"
	case dryRun:
		return "dry_run"
	default:
		return "skipped"
	}
}

// Report summarises an audit run or a single pair repair.
type Report struct {
	DryRun     bool             `json:"dryRun" yaml:"dryRun"`
	StartedAt  time.Time        `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt" yaml:"finishedAt"`
	Scanned    int              `json:"scanned" yaml:"scanned"`
	Repairs    jobs.BatchResult `json:"repairs" yaml:"repairs"`
	Findings   []Finding        `json:"findings" yaml:"findings"`
}

func (r *Report) add(fs ...Finding) {
	r.Findings = append(r.Findings, fs...)
}

// Applied counts findings that were fixed.
func (r *Report) Applied() int {
	n := 0
	for _, f := range r.Findings {
		if f.Applied {
			n++
		}
	}
	return n
}

// Skipped counts findings left alone because a concurrent write won.
func (r *Report) Skipped() int {
	n := 0
	for _, f := range r.Findings {
		if f.Skipped != "" {
			n++
		}
	}
	return n
}
