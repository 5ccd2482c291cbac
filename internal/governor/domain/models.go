// Package domain contains persistence models for per-model usage governance.
package domain

import "time"

// UsageCounter accumulates one model's admitted traffic for one calendar day.
// Rows are never deleted; date rollover starts a fresh key.
type UsageCounter struct {
	ModelID            string    `gorm:"primaryKey;type:text"`
	Day                string    `gorm:"primaryKey;type:text"` // YYYY-MM-DD, UTC
	RequestCount       int64     `gorm:"not null;default:0"`
	TokenCount         int64     `gorm:"not null;default:0"`
	EstimatedCostUnits float64   `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }

const (
	ReasonRateLimited  = "rate_limited"
	ReasonTokenCeiling = "token_ceiling_exceeded"
	ReasonCostCeiling  = "cost_ceiling_exceeded"
)

// RetryAfterSeconds is the fixed hint returned with every denial.
const RetryAfterSeconds = 60

// Decision is the governor's verdict for one pending provider call.
type Decision struct {
	Allowed           bool
	Reason            string
	RetryAfterSeconds int
}
