package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/document"
	"github.com/planforge/planforge/internal/entitlement"
	entitlementdomain "github.com/planforge/planforge/internal/entitlement/domain"
	"github.com/planforge/planforge/internal/governor"
	"github.com/planforge/planforge/internal/llm"
	"github.com/planforge/planforge/internal/metrics"
	"github.com/planforge/planforge/internal/orchestrator"
	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
	"github.com/planforge/planforge/internal/providers/email"
	"github.com/planforge/planforge/internal/ratelimit"
	"github.com/planforge/planforge/internal/record"
	recorddomain "github.com/planforge/planforge/internal/record/domain"
	"github.com/planforge/planforge/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	metrics.Module,
	ratelimit.Module,
	governor.Module,
	llm.Module,
	orchestrator.Module,
	entitlement.Module,
	storage.Module,
	email.Module,
	document.Module,
	record.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.Logger
	Orchestrator orchestratordomain.Service
	Entitlements entitlementdomain.Service
	Deliverer    *document.Deliverer
	Records      recorddomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	orchestrator orchestratordomain.Service
	entitlements entitlementdomain.Service
	deliverer    *document.Deliverer
	records      recorddomain.Service
	metrics      *metrics.Metrics
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Engine,
		log:          p.Log.Named("http.server"),
		orchestrator: p.Orchestrator,
		entitlements: p.Entitlements,
		deliverer:    p.Deliverer,
		records:      p.Records,
		metrics:      p.Metrics,
	}
}

func RegisterRoutes(s *Server) {
	v1 := s.engine.Group("/v1")
	v1.POST("/generate", s.Generate)
	v1.POST("/entitlements/check", s.CheckEntitlement)
	v1.POST("/trials/grant", s.GrantTrial)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
