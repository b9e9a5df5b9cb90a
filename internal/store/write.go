package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/entitycache/internal/feed"
)

// Append validates op and appends it to the log, returning its seq.
// Any Seq already set on op is ignored.
func (s *Store) Append(ctx context.Context, op feed.Op) (int64, error) {
	seq, _, err := s.append(ctx, op, sql.NullString{})
	return seq, err
}

// AppendFrom appends op tagged with a source coordinate. If the source was
// already recorded nothing is written and inserted is false; seq is then
// the seq of the earlier row.
func (s *Store) AppendFrom(ctx context.Context, source string, op feed.Op) (seq int64, inserted bool, err error) {
	if source == "" {
		return 0, false, fmt.Errorf("append op: empty source")
	}
	return s.append(ctx, op, sql.NullString{String: source, Valid: true})
}

// AppendAll appends ops in one transaction and returns the last seq.
func (s *Store) AppendAll(ctx context.Context, ops []feed.Op) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append ops: %w", err)
	}
	defer tx.Rollback()

	var last int64
	for i, op := range ops {
		cache, kind, body, err := encodeOp(op)
		if err != nil {
			return 0, fmt.Errorf("append ops[%d]: %w", i, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ops (cache, kind, body) VALUES (?, ?, ?)
		`, cache, kind, body)
		if err != nil {
			return 0, fmt.Errorf("append ops[%d]: %w", i, err)
		}
		if last, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("append ops[%d]: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append ops: %w", err)
	}
	return last, nil
}

func (s *Store) append(ctx context.Context, op feed.Op, source sql.NullString) (int64, bool, error) {
	cache, kind, body, err := encodeOp(op)
	if err != nil {
		return 0, false, fmt.Errorf("append op: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ops (cache, kind, body, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, cache, kind, body, source)
	if err != nil {
		return 0, false, fmt.Errorf("append op: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("append op: %w", err)
	}
	if n == 0 {
		var seq int64
		err := s.db.QueryRowContext(ctx, `SELECT seq FROM ops WHERE source = ?`, source).Scan(&seq)
		if err != nil {
			return 0, false, fmt.Errorf("append op: lookup duplicate source: %w", err)
		}
		return seq, false, nil
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("append op: %w", err)
	}
	return seq, true, nil
}

// encodeOp renders the op body as canonical JSON without its seq.
func encodeOp(op feed.Op) (cache, kind, body string, err error) {
	if err := op.Validate(); err != nil {
		return "", "", "", err
	}
	op.Seq = 0
	data, err := op.MarshalCanonical()
	if err != nil {
		return "", "", "", fmt.Errorf("marshal op: %w", err)
	}
	return op.Cache, string(op.Kind), string(data), nil
}
