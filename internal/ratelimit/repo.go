package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists sliding-window counters in the shared store. The upsert
// is a single statement so concurrent callers across processes get a
// linearizable post-increment count without any lock service.
type Repository interface {
	Upsert(ctx context.Context, bucket, key string, window time.Duration) (WindowState, error)
}

// WindowState is the counter row after the atomic upsert.
type WindowState struct {
	WindowStart time.Time
	Count       int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a counter repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

const upsertCounterSQL = `
INSERT INTO api_rate_limits (bucket, key, window_start, count)
VALUES (?, ?, NOW(), 1)
ON CONFLICT (bucket, key) DO UPDATE
SET count = CASE
        WHEN api_rate_limits.window_start <= NOW() - make_interval(secs => ?) THEN 1
        ELSE api_rate_limits.count + 1
    END,
    window_start = CASE
        WHEN api_rate_limits.window_start <= NOW() - make_interval(secs => ?) THEN NOW()
        ELSE api_rate_limits.window_start
    END
RETURNING window_start, count
`

func (r *repository) Upsert(ctx context.Context, bucket, key string, window time.Duration) (WindowState, error) {
	secs := window.Seconds()
	var state WindowState
	err := r.db.WithContext(ctx).
		Raw(upsertCounterSQL, bucket, key, secs, secs).
		Row().
		Scan(&state.WindowStart, &state.Count)
	if err != nil {
		return WindowState{}, err
	}
	return state, nil
}
