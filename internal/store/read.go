package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/entitycache/internal/feed"
)

// ReadAll returns every op in seq order.
// Returns an empty slice (not nil) for an empty log.
func (s *Store) ReadAll(ctx context.Context) ([]feed.Op, error) {
	return s.ReadSince(ctx, 0)
}

// ReadSince returns ops with seq greater than after, in seq order.
func (s *Store) ReadSince(ctx context.Context, after int64) ([]feed.Op, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, body
		FROM ops
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	ops := []feed.Op{}
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

// ReadCache returns the ops that target one cache, in seq order.
func (s *Store) ReadCache(ctx context.Context, cache string) ([]feed.Op, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, body
		FROM ops
		WHERE cache = ?
		ORDER BY seq ASC
	`, cache)
	if err != nil {
		return nil, fmt.Errorf("query ops for %s: %w", cache, err)
	}
	defer rows.Close()

	ops := []feed.Op{}
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

// LastSeq returns the highest seq in the log, or 0 when it is empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM ops`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanOp(rows *sql.Rows) (feed.Op, error) {
	var (
		seq  int64
		body string
	)
	if err := rows.Scan(&seq, &body); err != nil {
		return feed.Op{}, fmt.Errorf("scan op: %w", err)
	}
	op, err := feed.DecodeOp([]byte(body), feed.FormatJSON)
	if err != nil {
		return feed.Op{}, fmt.Errorf("decode op %d: %w", seq, err)
	}
	op.Seq = seq
	return op, nil
}
