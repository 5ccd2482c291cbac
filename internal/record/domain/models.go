// Package domain contains the persisted generation audit record.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// GenerationRecord captures who generated what, when, and how the delivery
// went. Insert-append only; the inbound request itself is never persisted.
type GenerationRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	IdentityHash  string       `gorm:"type:text;not null;index"`
	Action        string       `gorm:"type:text;not null"`
	ProviderUsed  string       `gorm:"type:text"`
	SectionCount  int          `gorm:"not null;default:0"`
	DocumentBytes int          `gorm:"not null;default:0"`
	Stored        bool         `gorm:"not null;default:false"`
	Notified      bool         `gorm:"not null;default:false"`
	WarningCount  int          `gorm:"not null;default:0"`
	Success       bool         `gorm:"not null;default:false"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GenerationRecord) TableName() string { return "generation_records" }

type Service interface {
	Append(ctx context.Context, record GenerationRecord) error
}
