package models

import "time"

// RateLimitCounter is one sliding-window counter row. At most one row exists
// per (bucket, key); the window rolls forward in place and rows are never
// deleted.
type RateLimitCounter struct {
	Bucket      string    `gorm:"column:bucket;primaryKey"`
	Key         string    `gorm:"column:key;primaryKey"`
	WindowStart time.Time `gorm:"column:window_start;not null"`
	Count       int64     `gorm:"column:count;not null;default:1"`
}

// TableName matches the shared counter table consumed by every instance.
func (RateLimitCounter) TableName() string {
	return "api_rate_limits"
}
