package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Wallet actions
// write three rows per intent (submitted, mined or failed) sharing one
// intent_id.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. intent_id and pool_id are copied out of detail
// into their own columns when present.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	intent, poolID := auditKeys(detail)

	const query = `INSERT INTO audit_log (event, intent_id, pool_id, detail) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, event, nullString(intent), poolID, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *AuditStore) List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	query, args := auditListQuery(q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func auditListQuery(q domain.AuditQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.EventPrefix != "" {
		where = append(where, "event LIKE "+arg(escapeLike(q.EventPrefix)+"%"))
	}
	if q.IntentID != "" {
		where = append(where, "intent_id = "+arg(q.IntentID))
	}
	if q.PoolID != nil {
		where = append(where, "pool_id = "+arg(int64(*q.PoolID)))
	}
	if q.Since != nil {
		where = append(where, "created_at >= "+arg(*q.Since))
	}
	if q.Until != nil {
		where = append(where, "created_at <= "+arg(*q.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, intent_id, pool_id, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + arg(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + arg(q.Offset))
	}
	return b.String(), args
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e          domain.AuditEntry
		intent     *string
		poolID     *int64
		detailJSON []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &intent, &poolID, &detailJSON, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	if intent != nil {
		e.IntentID = *intent
	}
	if poolID != nil && *poolID >= 0 {
		id := uint64(*poolID)
		e.PoolID = &id
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshal audit detail %d: %w", e.ID, err)
		}
	}
	return e, nil
}

// auditKeys extracts the indexed columns from an audit detail map.
func auditKeys(detail map[string]any) (intent string, poolID *int64) {
	if v, ok := detail["intent_id"].(string); ok {
		intent = v
	}
	var id int64
	switch v := detail["pool_id"].(type) {
	case uint64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	case float64:
		id = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return intent, nil
		}
		id = n
	default:
		return intent, nil
	}
	if id < 0 {
		return intent, nil
	}
	return intent, &id
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.AuditStore = (*AuditStore)(nil)
