// This file implements the per-store operation log on the sync_operations
// table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Record appends a pending entry for env and returns its id.
func (s *Store) Record(ctx context.Context, env types.Envelope) (int64, error) {
	if env.Mutation == nil {
		return 0, types.Conflict(s.name, "log record", types.ErrUnknownMutation)
	}
	raw, err := types.EncodeMutation(env.Mutation)
	if err != nil {
		return 0, types.Conflict(s.name, "log record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return 0, types.Unreachable(s.name, "log record", err)
	}

	now := timestamp(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_operations (mutation_id, kind, operation, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, ?)`,
		env.ID, string(env.Mutation.Kind()), string(raw), types.OpPending, now, now)
	if err != nil {
		return 0, s.classify("log record", fmt.Errorf("inserting log entry: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.classify("log record", err)
	}
	return id, nil
}

// Resolve moves a pending entry to completed or failed. Only the pending
// row is matched, so a resolved entry is never rewritten.
func (s *Store) Resolve(ctx context.Context, id int64, status string, cause error) error {
	if status != types.OpCompleted && status != types.OpFailed {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return types.Unreachable(s.name, "log resolve", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_operations SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?",
		status, msg, timestamp(s.now()), id, types.OpPending)
	if err != nil {
		return s.classify("log resolve", fmt.Errorf("updating log entry %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.classify("log resolve", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM sync_operations WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", types.ErrLogEntryNotFound, id)
	}
	if err != nil {
		return s.classify("log resolve", err)
	}
	return fmt.Errorf("%w: %d is %s", types.ErrLogEntryResolved, id, current)
}

// Entries lists log entries matching filter in id order.
func (s *Store) Entries(ctx context.Context, filter types.LogFilter) ([]types.LogEntry, error) {
	if filter.Status != "" && !types.ValidOpStatus(filter.Status) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStatus, filter.Status)
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.MutationID != "" {
		where = append(where, "mutation_id = ?")
		args = append(args, filter.MutationID)
	}

	query := "SELECT id, mutation_id, kind, operation, status, error, created_at, updated_at FROM sync_operations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return nil, types.Unreachable(s.name, "log entries", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify("log entries", fmt.Errorf("querying log: %w", err))
	}
	defer rows.Close()

	var entries []types.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, s.classify("log entries", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("log entries", err)
	}
	return entries, nil
}

// Pending lists entries still pending, oldest first.
func (s *Store) Pending(ctx context.Context) ([]types.LogEntry, error) {
	return s.Entries(ctx, types.LogFilter{Status: types.OpPending})
}

func scanLogEntry(rows *sql.Rows) (types.LogEntry, error) {
	var (
		e                    types.LogEntry
		kind, op             string
		createdAt, updatedAt string
	)
	if err := rows.Scan(&e.ID, &e.MutationID, &kind, &op, &e.Status, &e.Error, &createdAt, &updatedAt); err != nil {
		return e, fmt.Errorf("scanning log entry: %w", err)
	}
	e.Kind = types.MutationKind(kind)
	e.Mutation = []byte(op)

	var err error
	if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return e, fmt.Errorf("parsing created_at of entry %d: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return e, fmt.Errorf("parsing updated_at of entry %d: %w", e.ID, err)
	}
	return e, nil
}
