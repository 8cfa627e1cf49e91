// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for AuditRecord.
//
// All functions are context-aware and accept a *gorm.DB handle, so they work
// inside transactions as well. They hold no business rules: the service
// layer decides what gets recorded and for how long.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heyjinjung/rmafh-sub000/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience.
var ErrNotFound = gorm.ErrRecordNotFound

// AuditFilter narrows list and count queries. Zero fields match everything.
type AuditFilter struct {
	IdempotencyKey string
	RequestID      string
	Route          string
	FailedOnly     bool
}

func (f AuditFilter) apply(q *gorm.DB) *gorm.DB {
	if k := strings.TrimSpace(f.IdempotencyKey); k != "" {
		q = q.Where("idempotency_key = ?", k)
	}
	if id := strings.TrimSpace(f.RequestID); id != "" {
		q = q.Where("request_id = ?", id)
	}
	if r := strings.TrimSpace(f.Route); r != "" {
		q = q.Where("route = ?", r)
	}
	if f.FailedOnly {
		q = q.Where("(status < 200 OR status >= 300)")
	}
	return q
}

// CreateAuditRecord inserts rec, assigning an ID and UTC timestamp when the
// caller left them empty.
func CreateAuditRecord(ctx context.Context, db *gorm.DB, rec *domain.AuditRecord) error {
	if rec == nil {
		return errors.New("nil audit record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// CountAuditRecords returns the number of records matching f.
func CountAuditRecords(ctx context.Context, db *gorm.DB, f AuditFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.AuditRecord{})).
		Count(&total).Error
	return total, err
}

// ListAuditRecordsPage returns a page of records matching f, most recent
// first. Use CountAuditRecords for pagination metadata.
func ListAuditRecordsPage(ctx context.Context, db *gorm.DB, f AuditFilter, offset, limit int) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindLatestByKey returns the most recent record carrying key, or ErrNotFound.
func FindLatestByKey(ctx context.Context, db *gorm.DB, key string) (*domain.AuditRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.AuditRecord
	err := db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Order("created_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PruneAuditRecords deletes records created before cutoff and returns how
// many rows were removed.
func PruneAuditRecords(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.AuditRecord{})
	return res.RowsAffected, res.Error
}
