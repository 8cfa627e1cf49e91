package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/heyjinjung/rmafh-sub000/internal/domain"
	"github.com/heyjinjung/rmafh-sub000/internal/events"
	"github.com/heyjinjung/rmafh-sub000/internal/repo"
)

// ----- Fake repo -----

type fakeAuditRepo struct {
	created   []domain.AuditRecord
	createErr error

	countFilter repo.AuditFilter
	countTotal  int64
	countErr    error

	pageOffset int
	pageLimit  int
	pageItems  []domain.AuditRecord
	pageErr    error

	findKey string
	findRec *domain.AuditRecord
	findErr error

	pruneCutoff time.Time
	pruneN      int64
}

func (r *fakeAuditRepo) CreateAuditRecord(_ context.Context, _ *gorm.DB, rec *domain.AuditRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, *rec)
	return nil
}

func (r *fakeAuditRepo) CountAuditRecords(_ context.Context, _ *gorm.DB, f repo.AuditFilter) (int64, error) {
	r.countFilter = f
	return r.countTotal, r.countErr
}

func (r *fakeAuditRepo) ListAuditRecordsPage(_ context.Context, _ *gorm.DB, _ repo.AuditFilter, offset, limit int) ([]domain.AuditRecord, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

func (r *fakeAuditRepo) FindLatestByKey(_ context.Context, _ *gorm.DB, key string) (*domain.AuditRecord, error) {
	r.findKey = key
	return r.findRec, r.findErr
}

func (r *fakeAuditRepo) PruneAuditRecords(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	r.pruneCutoff = cutoff
	return r.pruneN, nil
}

func TestAuditService_Record_MutatingOnlyByDefault(t *testing.T) {
	fr := &fakeAuditRepo{}
	s := NewAuditService(nil, fr, time.Hour)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Record(context.Background(), events.ProxyEvent{Method: "GET", Route: "users", Status: 200}); err != nil {
		t.Fatalf("Record GET: %v", err)
	}
	if len(fr.created) != 0 {
		t.Fatalf("GET should not be recorded by default")
	}

	ev := events.ProxyEvent{
		RequestID: "req-1", Route: "vault_extend_expiry", Method: "post", UpstreamPath: "/admin/vault/extend-expiry",
		Status: 504, Outcome: events.OutcomeTimeout, Code: "UPSTREAM_TIMEOUT", IdempotencyKey: "K",
		Latency: 1500 * time.Millisecond, At: at,
	}
	if err := s.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record POST: %v", err)
	}
	if len(fr.created) != 1 {
		t.Fatalf("created = %d; want 1", len(fr.created))
	}
	got := fr.created[0]
	if got.Method != "POST" || got.Outcome != "timeout" || got.ErrorCode != "UPSTREAM_TIMEOUT" ||
		got.LatencyMS != 1500 || !got.CreatedAt.Equal(at) || got.IdempotencyKey != "K" {
		t.Fatalf("unexpected record %+v", got)
	}

	s.RecordReads = true
	_ = s.Record(context.Background(), events.ProxyEvent{Method: "GET", Route: "users", Status: 200})
	if len(fr.created) != 2 {
		t.Fatalf("GET should be recorded with RecordReads")
	}
}

func TestAuditService_Record_DefaultsTimestamp(t *testing.T) {
	fr := &fakeAuditRepo{}
	s := NewAuditService(nil, fr, 0)
	fixed := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_ = s.Record(context.Background(), events.ProxyEvent{Method: "DELETE", Route: "user"})
	if !fr.created[0].CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v; want %v", fr.created[0].CreatedAt, fixed)
	}
}

func TestAuditService_Subscribe_SwallowsErrors(t *testing.T) {
	fr := &fakeAuditRepo{createErr: errors.New("disk full")}
	s := NewAuditService(nil, fr, 0)
	bus := events.NewBus()
	unsub := s.Subscribe(bus)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, events.ProxyEvent{Method: "POST", Route: "users"}) // must not panic
	if bus.Len() != 1 {
		t.Fatalf("expected one subscriber")
	}
}

func TestAuditService_ListPage(t *testing.T) {
	fr := &fakeAuditRepo{countTotal: 45, pageItems: []domain.AuditRecord{{ID: "a"}}}
	s := NewAuditService(nil, fr, 0)

	items, total, err := s.ListPage(context.Background(), repo.AuditFilter{IdempotencyKey: "K"}, 3, 20)
	if err != nil || total != 45 || len(items) != 1 {
		t.Fatalf("ListPage = %v, %d, %v", items, total, err)
	}
	if fr.pageOffset != 40 || fr.pageLimit != 20 || fr.countFilter.IdempotencyKey != "K" {
		t.Fatalf("offset/limit/filter = %d/%d/%+v", fr.pageOffset, fr.pageLimit, fr.countFilter)
	}

	_, _, _ = s.ListPage(context.Background(), repo.AuditFilter{}, 0, 0)
	if fr.pageOffset != 0 || fr.pageLimit != 20 {
		t.Fatalf("defaults not applied: %d/%d", fr.pageOffset, fr.pageLimit)
	}

	fr.countTotal = 0
	items, total, err = s.ListPage(context.Background(), repo.AuditFilter{}, 1, 10)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty ListPage = %v, %d, %v", items, total, err)
	}

	fr.countErr = errors.New("db down")
	if _, _, err := s.ListPage(context.Background(), repo.AuditFilter{}, 1, 10); err == nil {
		t.Fatalf("expected count error")
	}

	long := make([]byte, maxFilterKeyLen+1)
	for i := range long {
		long[i] = 'k'
	}
	if _, _, err := s.ListPage(context.Background(), repo.AuditFilter{IdempotencyKey: string(long)}, 1, 10); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestAuditService_LastAttemptAndLatestByKey(t *testing.T) {
	fr := &fakeAuditRepo{findErr: repo.ErrNotFound}
	s := NewAuditService(nil, fr, 0)

	if rec, err := s.LastAttempt(context.Background(), "K"); err != nil || rec != nil {
		t.Fatalf("LastAttempt(missing) = %v, %v", rec, err)
	}
	if _, err := s.LatestByKey(context.Background(), "K"); !errors.Is(err, ErrAuditRecordNotFound) {
		t.Fatalf("LatestByKey err = %v", err)
	}

	fr.findErr = nil
	fr.findRec = &domain.AuditRecord{ID: "x", Method: "POST", Outcome: "timeout"}
	rec, err := s.LastAttempt(context.Background(), "K")
	if err != nil || rec == nil || rec.ID != "x" {
		t.Fatalf("LastAttempt(present) = %v, %v", rec, err)
	}

	fr.findKey = ""
	if rec, _ := s.LastAttempt(context.Background(), "  "); rec != nil || fr.findKey != "" {
		t.Fatalf("blank key must not hit the repo")
	}

	fr.findRec, fr.findErr = nil, errors.New("db down")
	if _, err := s.LastAttempt(context.Background(), "K"); err == nil {
		t.Fatalf("expected repo error")
	}
}

func TestAuditService_Prune(t *testing.T) {
	fr := &fakeAuditRepo{pruneN: 3}
	s := NewAuditService(nil, fr, 0)
	if _, err := s.Prune(context.Background()); !errors.Is(err, ErrRetentionDisabled) {
		t.Fatalf("expected ErrRetentionDisabled, got %v", err)
	}

	s.Retention = 24 * time.Hour
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	n, err := s.Prune(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if !fr.pruneCutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("cutoff = %v", fr.pruneCutoff)
	}
}

func TestAuditService_RunPruner_StopsOnCancel(t *testing.T) {
	fr := &fakeAuditRepo{}
	s := NewAuditService(nil, fr, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunPruner(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunPruner did not stop")
	}
}

// realRepo adapts the repo free functions, as the router does.
type realRepo struct{}

func (realRepo) CreateAuditRecord(ctx context.Context, db *gorm.DB, rec *domain.AuditRecord) error {
	return repo.CreateAuditRecord(ctx, db, rec)
}
func (realRepo) CountAuditRecords(ctx context.Context, db *gorm.DB, f repo.AuditFilter) (int64, error) {
	return repo.CountAuditRecords(ctx, db, f)
}
func (realRepo) ListAuditRecordsPage(ctx context.Context, db *gorm.DB, f repo.AuditFilter, offset, limit int) ([]domain.AuditRecord, error) {
	return repo.ListAuditRecordsPage(ctx, db, f, offset, limit)
}
func (realRepo) FindLatestByKey(ctx context.Context, db *gorm.DB, key string) (*domain.AuditRecord, error) {
	return repo.FindLatestByKey(ctx, db, key)
}
func (realRepo) PruneAuditRecords(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return repo.PruneAuditRecords(ctx, db, cutoff)
}

func TestAuditService_BusToDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("audit_svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.AuditRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	s := NewAuditService(db, realRepo{}, time.Hour)
	bus := events.NewBus()
	s.Subscribe(bus)

	bus.Publish(context.Background(), events.ProxyEvent{
		RequestID: "r1", Route: "users", Method: "POST", Path: "/vault-admin/api/admin/users", Status: 409, Outcome: events.OutcomeRelayed,
		Code: "DUPLICATE_REQUEST", IdempotencyKey: "K-1", IdempotencyStatus: "REPLAYED", At: time.Now().UTC(),
	})

	last, err := s.LastAttempt(context.Background(), "K-1")
	if err != nil || last == nil || last.Path != "/vault-admin/api/admin/users" || last.OutcomeUnknown() {
		t.Fatalf("LastAttempt = %+v, %v", last, err)
	}
	items, total, err := s.ListPage(context.Background(), repo.AuditFilter{IdempotencyKey: "K-1"}, 1, 10)
	if err != nil || total != 1 || items[0].IdempotencyStatus != "REPLAYED" || items[0].ErrorCode != "DUPLICATE_REQUEST" {
		t.Fatalf("ListPage = %+v, %d, %v", items, total, err)
	}
}
