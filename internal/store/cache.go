package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rowanhq/backstop/internal/cache"
)

// GetEntry returns the stored response for a key within a generation.
// Implements cache.Store.
func (s *Store) GetEntry(ctx context.Context, generation, key string) (*cache.Response, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, headers, body, stored_at
		FROM cache_entries
		WHERE generation = ? AND key = ?
	`, generation, key)

	var (
		status   int
		headers  string
		body     []byte
		storedAt int64
	)
	err := row.Scan(&status, &headers, &body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}

	hdr := make(http.Header)
	if err := json.Unmarshal([]byte(headers), &hdr); err != nil {
		// A corrupt header blob makes the entry useless; report it as a
		// miss rather than failing the fallback path.
		return nil, false, nil
	}

	return &cache.Response{
		Status:   status,
		Header:   hdr,
		Body:     body,
		StoredAt: time.UnixMilli(storedAt),
	}, true, nil
}

// PutEntry stores a response under (generation, key). Last write wins:
// an existing entry for the same key is replaced wholesale.
// Implements cache.Store.
func (s *Store) PutEntry(ctx context.Context, generation, key, url string, resp *cache.Response) error {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("put cache entry: marshal headers: %w", err)
	}

	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (generation, key, url, status, headers, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, key) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, generation, key, url, resp.Status, string(headers), resp.Body, storedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}

	return nil
}

// Generations lists all generation names with the given prefix, ordered by
// name for deterministic results.
// Implements cache.Store.
func (s *Store) Generations(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT generation FROM cache_entries
		WHERE generation LIKE ? || '%'
		ORDER BY generation ASC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}

	if names == nil {
		names = []string{}
	}
	return names, nil
}

// DeleteGeneration removes a generation and all its entries. Deleting a
// generation that does not exist is a no-op.
// Implements cache.Store.
func (s *Store) DeleteGeneration(ctx context.Context, generation string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE generation = ?
	`, generation)
	if err != nil {
		return fmt.Errorf("delete generation %s: %w", generation, err)
	}
	return nil
}
