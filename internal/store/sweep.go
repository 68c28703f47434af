package store

import (
	"context"
	"time"
)

// SweepExpired deletes every shop whose last_seen is older than
// now - retention. Locations, items and prices go with it via the
// cascading foreign keys. Returns the number of shops removed.
func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM shops
		WHERE last_seen < $1
	`, cutoff)
	if err != nil {
		return 0, wrap("sweep shops", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("sweep rows affected", err)
	}
	return deleted, nil
}
