// Package domain defines the persistence models of the console backend.
// These types are used by GORM for schema mapping and are shared across the
// repository and service layers.
package domain

import (
	"strings"
	"time"
)

// AuditRecord is one request handled by the upstream proxy. Records let an
// operator correlate a failed console action (request ID or idempotency key
// shown in the UI) with what the proxy actually forwarded and got back.
type AuditRecord struct {
	ID                string    `gorm:"type:TEXT NOT NULL;primaryKey" json:"id"`
	RequestID         string    `gorm:"type:TEXT;index" json:"request_id,omitempty"`
	IdempotencyKey    string    `gorm:"type:TEXT;index" json:"idempotency_key,omitempty"`
	Method            string    `gorm:"type:TEXT NOT NULL" json:"method"`
	Route             string    `gorm:"type:TEXT NOT NULL" json:"route"`
	Path              string    `gorm:"type:TEXT" json:"path,omitempty"`
	UpstreamPath      string    `gorm:"type:TEXT" json:"upstream_path,omitempty"`
	Status            int       `gorm:"type:INTEGER NOT NULL" json:"status"`
	Outcome           string    `gorm:"type:TEXT NOT NULL" json:"outcome"`
	IdempotencyStatus string    `gorm:"type:TEXT" json:"idempotency_status,omitempty"`
	ErrorCode         string    `gorm:"type:TEXT" json:"error_code,omitempty"`
	LatencyMS         int64     `gorm:"type:INTEGER NOT NULL" json:"latency_ms"`
	CreatedAt         time.Time `gorm:"type:DATETIME NOT NULL;index" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (AuditRecord) TableName() string { return "audit_records" }

// Mutating reports whether the recorded method changes upstream state.
func (r AuditRecord) Mutating() bool {
	switch strings.ToUpper(r.Method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// OutcomeUnknown reports whether the caller never learned if the upstream
// applied the request: the proxy timed out or lost the connection.
func (r AuditRecord) OutcomeUnknown() bool {
	return r.Outcome == "timeout" || r.Outcome == "upstream_error"
}

// Failed reports whether the caller received a non-2xx status.
func (r AuditRecord) Failed() bool { return r.Status < 200 || r.Status >= 300 }
