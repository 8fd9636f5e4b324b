package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// The upper bound is exclusive.
const timelineSelect = `SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR actor_id::text = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC`

// TimelineWindow returns up to limit rows starting at offset.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	args := filterArgs(filters)
	args = append(args, limit, offset)
	return r.query(ctx, timelineSelect+` LIMIT $7 OFFSET $8`, args...)
}

// TimelineAll returns every matching row.
func (r *PGRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	return r.query(ctx, timelineSelect, filterArgs(filters)...)
}

func (r *PGRepository) query(ctx context.Context, sql string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit timeline: %w", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRow(rows pgx.Rows) (TimelineRow, error) {
	var (
		row   TimelineRow
		actor *uuid.UUID
		meta  []byte
	)
	if err := rows.Scan(&row.At, &actor, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
		return TimelineRow{}, err
	}
	if actor != nil {
		row.Actor = actor.String()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &row.Meta); err != nil {
			return TimelineRow{}, fmt.Errorf("decode audit meta: %w", err)
		}
		if len(row.Meta) == 0 {
			row.Meta = nil
		}
	}
	return row, nil
}

func filterArgs(f TimelineFilters) []any {
	return []any{
		toPgTime(f.From),
		toPgTime(f.To),
		optionalText(f.Actor),
		optionalText(f.Entity),
		optionalText(f.EntityID),
		optionalText(f.Action),
	}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
