package idempotency

import (
	"context"
	"fmt"
	"time"
)

// CleanupOldKeys removes records older than expiry and returns how many were
// deleted.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old idempotency keys: %w", err)
	}
	return deleted, nil
}
