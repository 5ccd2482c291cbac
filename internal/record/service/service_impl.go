package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/planforge/planforge/internal/clock"
	recorddomain "github.com/planforge/planforge/internal/record/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) recorddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("record.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Append(ctx context.Context, record recorddomain.GenerationRecord) error {
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&record).Error
}
