// Package services – AuditService
//
// AuditService turns proxy events into persisted AuditRecords, serves the
// paginated audit listing used by the console, returns the last attempt
// made under an idempotency key for the idempotency middleware, and prunes
// records past the retention window.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/heyjinjung/rmafh-sub000/internal/domain"
	"github.com/heyjinjung/rmafh-sub000/internal/events"
	"github.com/heyjinjung/rmafh-sub000/internal/repo"
)

// AuditRepo defines the repository contract required by AuditService.
type AuditRepo interface {
	// CreateAuditRecord inserts a record.
	CreateAuditRecord(ctx context.Context, db *gorm.DB, rec *domain.AuditRecord) error

	// CountAuditRecords returns the number of records matching f.
	CountAuditRecords(ctx context.Context, db *gorm.DB, f repo.AuditFilter) (int64, error)

	// ListAuditRecordsPage returns one page of records matching f.
	ListAuditRecordsPage(ctx context.Context, db *gorm.DB, f repo.AuditFilter, offset, limit int) ([]domain.AuditRecord, error)

	// FindLatestByKey returns the newest record for an idempotency key.
	FindLatestByKey(ctx context.Context, db *gorm.DB, key string) (*domain.AuditRecord, error)

	// PruneAuditRecords deletes records older than cutoff.
	PruneAuditRecords(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// maxFilterKeyLen bounds idempotency keys accepted as list filters.
const maxFilterKeyLen = 200

// AuditService records and queries proxy activity.
type AuditService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the audit repository used by this service.
	Repo AuditRepo

	// Retention is how long records are kept. Zero disables pruning.
	Retention time.Duration
	// RecordReads also records GET/HEAD traffic. Off by default: the trail
	// is meant for state-changing console actions.
	RecordReads bool

	now func() time.Time
}

// NewAuditService constructs an AuditService that records mutating requests
// only and keeps them for retention.
func NewAuditService(db *gorm.DB, r AuditRepo, retention time.Duration) *AuditService {
	return &AuditService{
		DB:        db,
		Repo:      r,
		Retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record persists ev. Events for non-mutating methods are skipped unless
// RecordReads is set; skipped events return nil.
func (s *AuditService) Record(ctx context.Context, ev events.ProxyEvent) error {
	rec := &domain.AuditRecord{
		RequestID:         ev.RequestID,
		IdempotencyKey:    ev.IdempotencyKey,
		Method:            strings.ToUpper(ev.Method),
		Route:             ev.Route,
		Path:              ev.Path,
		UpstreamPath:      ev.UpstreamPath,
		Status:            ev.Status,
		Outcome:           string(ev.Outcome),
		IdempotencyStatus: ev.IdempotencyStatus,
		ErrorCode:         ev.Code,
		LatencyMS:         ev.Latency.Milliseconds(),
		CreatedAt:         ev.At.UTC(),
	}
	if !rec.Mutating() && !s.RecordReads {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	return s.Repo.CreateAuditRecord(ctx, s.DB, rec)
}

// Subscribe attaches the service to bus. Writes are detached from the
// request's cancellation so a client hanging up does not lose the record.
func (s *AuditService) Subscribe(bus *events.Bus) (unsubscribe func()) {
	return bus.Subscribe(func(ctx context.Context, ev events.ProxyEvent) {
		if err := s.Record(context.WithoutCancel(ctx), ev); err != nil {
			log.Warn().Err(err).
				Str("request_id", ev.RequestID).
				Str("route", ev.Route).
				Msg("audit record failed")
		}
	})
}

// ListPage returns a page of records matching f, newest first, plus the
// total count. Invalid page values fall back to defaults.
func (s *AuditService) ListPage(ctx context.Context, f repo.AuditFilter, page, pageSize int) ([]domain.AuditRecord, int64, error) {
	if len(f.IdempotencyKey) > maxFilterKeyLen {
		return nil, 0, ErrInvalidFilter
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountAuditRecords(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AuditRecord{}, 0, nil
	}

	items, err := s.Repo.ListAuditRecordsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// LatestByKey returns the newest record for key or ErrAuditRecordNotFound.
func (s *AuditService) LatestByKey(ctx context.Context, key string) (*domain.AuditRecord, error) {
	rec, err := s.Repo.FindLatestByKey(ctx, s.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAuditRecordNotFound
	}
	return rec, err
}

// LastAttempt returns the newest record for key, or nil when the key has not
// been used. The idempotency middleware uses it to recognize retries.
func (s *AuditService) LastAttempt(ctx context.Context, key string) (*domain.AuditRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	rec, err := s.LatestByKey(ctx, key)
	if errors.Is(err, ErrAuditRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// Prune deletes records older than the retention window.
func (s *AuditService) Prune(ctx context.Context) (int64, error) {
	if s.Retention <= 0 {
		return 0, ErrRetentionDisabled
	}
	return s.Repo.PruneAuditRecords(ctx, s.DB, s.clock().Add(-s.Retention))
}

// RunPruner calls Prune every interval until ctx is done.
func (s *AuditService) RunPruner(ctx context.Context, interval time.Duration) {
	if s.Retention <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Prune(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("audit prune failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Dur("retention", s.Retention).Msg("audit records pruned")
			}
		}
	}
}

func (s *AuditService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
