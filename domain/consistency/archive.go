package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/storage"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// ObjectStore is where archived reports live.
type ObjectStore interface {
	Enabled() bool
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Archive keeps audit reports in object storage, keyed by run date.
type Archive struct {
	store  ObjectStore
	prefix string
	log    *slog.Logger
}

// NewArchive creates a report archive under cfg.Storage.Prefix
func NewArchive(store *storage.Service, cfg *config.Config, log *slog.Logger) *Archive {
	return newArchive(store, cfg.Storage.Prefix, log)
}

func newArchive(store ObjectStore, prefix string, log *slog.Logger) *Archive {
	return &Archive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With(logger.Scope("consistency.archive")),
	}
}

// Enabled reports whether Save will write anything.
func (a *Archive) Enabled() bool {
	return a != nil && a.store != nil && a.store.Enabled()
}

// ReportKey builds the object key for a report:
// <prefix>/YYYY/MM/DD/audit-<started>-<mode>-<id>.json
func ReportKey(prefix string, r *Report) string {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	started := r.StartedAt.UTC()
	name := fmt.Sprintf("audit-%s-%s-%s.json",
		started.Format("20060102T150405Z"), mode, uuid.NewString()[:8])
	return path.Join(prefix, started.Format("2006/01/02"), name)
}

// Save writes r and returns its key. A disabled archive returns "" and no error.
func (a *Archive) Save(ctx context.Context, r *Report) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := ReportKey(a.prefix, r)
	if err := a.store.Put(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	a.log.Info("audit report archived",
		slog.String("key", key),
		slog.Int("findings", len(r.Findings)))
	return key, nil
}

// Load reads an archived report. Keys outside the archive prefix are rejected.
func (a *Archive) Load(ctx context.Context, key string) (*Report, error) {
	if !a.Enabled() {
		return nil, apperror.ErrServiceUnavailable.WithMessage("report archive is not configured")
	}
	key = path.Clean(strings.TrimPrefix(key, "/"))
	if a.prefix != "" && !strings.HasPrefix(key, a.prefix+"/") {
		return nil, apperror.ErrNotFound.WithMessage("report not found")
	}

	body, err := a.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperror.ErrNotFound.WithMessage("report not found")
	}
	if err != nil {
		return nil, apperror.NewInternal("failed to read archived report", err)
	}

	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, apperror.NewInternal("archived report is corrupt", err)
	}
	return &r, nil
}
