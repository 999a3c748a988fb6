package storage

import (
	"context"
	"fmt"
	"time"
)

// Remember registra el nonce de una request hasta que pasa ttl. Primero borra
// las filas expiradas, así la tabla solo guarda nonces dentro de la ventana.
func (s *SQLiteStorage) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_requests WHERE expires_at <= ?`, unixNano(now)); err != nil {
		return false, fmt.Errorf("storage.Remember: expire: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_requests (key, expires_at) VALUES (?, ?)`,
		key, unixNano(now.Add(ttl)),
	)
	if err != nil {
		return false, fmt.Errorf("storage.Remember: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.Remember: rows affected: %w", err)
	}
	return n == 1, nil
}
