package cleanup

import (
	"context"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

type ExpiredRemover interface {
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

// StartRefreshTokenCleanup removes expired refresh tokens every interval
// until ctx is done. A non-positive interval disables the sweep.
func StartRefreshTokenCleanup(ctx context.Context, repo ExpiredRemover, clk clock.Clock, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		log.Infof("refresh token cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = RunOnce(ctx, repo, clk, log)
		}
	}
}

func RunOnce(ctx context.Context, repo ExpiredRemover, clk clock.Clock, log *logger.Logger) (int64, error) {
	deleted, err := repo.RemoveExpired(ctx, clk.Now())
	if err != nil {
		log.Errorf("refresh token cleanup failed: %v", err)
		return 0, err
	}
	if deleted > 0 {
		metrics.RefreshTokensCleanupDeleted.Add(float64(deleted))
		log.Infof("refresh token cleanup: deleted %d expired tokens", deleted)
	}
	return deleted, nil
}
