package contacts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

// State is a step of the mutation state machine.
type State string

const (
	StateStarted              State = "STARTED"
	StateStoreCommitted       State = "STORE_COMMITTED"
	StateIndexAttempted       State = "INDEX_ATTEMPTED"
	StateSuccess              State = "SUCCESS"
	StatePartialIndexNotFound State = "PARTIAL_INDEX_NOT_FOUND"
	StatePartialIndexError    State = "PARTIAL_INDEX_ERROR"
	StateFailed               State = "FAILED"
	// StatePartialFailure closes a batch whose items ended in different
	// states (de-duplication groups).
	StatePartialFailure State = "PARTIAL_FAILURE"
)

// Outcome is the auditable result of one mutation.
type Outcome struct {
	ID             string  `json:"id"`
	Op             string  `json:"op"`
	State          State   `json:"state"`
	Trace          []State `json:"trace"`
	StoreCommitted bool    `json:"store_committed"`
	IndexError     string  `json:"index_error,omitempty"`
}

// mutation tracks one operation through the state machine and, on finish,
// logs it, counts it, audits it and invalidates the search cache when the
// record store changed.
type mutation struct {
	svc     *Service
	target  string
	started time.Time
	out     Outcome
}

func (s *Service) begin(op, target string) *mutation {
	return &mutation{
		svc:     s,
		target:  target,
		started: s.now(),
		out: Outcome{
			ID:    uuid.NewString(),
			Op:    op,
			State: StateStarted,
			Trace: []State{StateStarted},
		},
	}
}

func (m *mutation) step(st State) {
	m.out.State = st
	m.out.Trace = append(m.out.Trace, st)
	if st == StateStoreCommitted {
		m.out.StoreCommitted = true
	}
}

// rolledBack records that a pending store change was undone.
func (m *mutation) rolledBack() {
	m.out.StoreCommitted = false
}

func (m *mutation) finish(ctx context.Context, st State, requested, affected int, err error) Outcome {
	m.step(st)
	if st == StateFailed {
		m.out.StoreCommitted = false
	}

	fields := []interface{}{
		"op", m.out.Op, "mutation_id", m.out.ID, "state", string(st),
		"requested", requested, "affected", affected,
		"duration_ms", m.svc.now().Sub(m.started).Milliseconds(),
	}
	if m.target != "" {
		fields = append(fields, "email", m.target)
	}
	if err != nil {
		fields = append(fields, "error", err)
	}
	switch st {
	case StateSuccess:
		logger.Info("contacts: mutation complete", fields...)
	case StatePartialIndexNotFound:
		logger.Warn("contacts: mutation complete, index already missing target", fields...)
	default:
		logger.Error("contacts: mutation did not fully apply", fields...)
	}

	metrics.MutationsTotal.WithLabelValues(m.out.Op, string(st)).Inc()

	// Bookkeeping outlives a caller that hung up mid-request.
	ctx = context.WithoutCancel(ctx)

	if m.out.StoreCommitted {
		if cerr := m.svc.cache.Invalidate(ctx); cerr != nil {
			logger.Warn("contacts: cache invalidation failed", "op", m.out.Op, "error", cerr)
		}
	}

	entry := AuditEntry{
		ID:        m.out.ID,
		Op:        m.out.Op,
		Target:    m.target,
		Requested: requested,
		Affected:  affected,
		State:     st,
		At:        m.svc.now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aerr := m.svc.audit.Record(ctx, entry); aerr != nil {
		logger.Warn("contacts: audit record failed", "op", m.out.Op, "mutation_id", m.out.ID, "error", aerr)
	}

	return m.out
}
