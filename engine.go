package careauth

import (
	"time"

	"github.com/caremesh/careauth/permission"
	"github.com/caremesh/careauth/token"
)

// Engine is the credential and verification engine. Build one through
// [Builder]; an Engine is immutable after construction and safe for
// concurrent use.
type Engine struct {
	config     Config
	table      *permission.Table
	store      CredentialStore
	principals PrincipalProvider

	cache      *verifyCache
	otpLimiter *otpLimiter
	loginGates *loginGateStore

	audit   *auditDispatcher
	metrics *Metrics
	totp    *totpManager
	tokens  *token.Manager
}

// Close flushes and stops the audit dispatcher. The Engine must not be
// used after Close returns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters and
// histograms. Returns empty maps when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the underlying metrics system for exporter wiring.
// Returns nil when metrics are disabled.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// PermissionTable exposes the frozen role/permission table.
func (e *Engine) PermissionTable() *permission.Table {
	if e == nil {
		return nil
	}
	return e.table
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}
