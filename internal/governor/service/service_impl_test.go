package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/clock"
	"github.com/planforge/planforge/internal/config"
	governordomain "github.com/planforge/planforge/internal/governor/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupGovernor(t *testing.T, catalog config.ModelCatalog, clk clock.Clock) (governordomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "governor.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&governordomain.UsageCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Catalog: config.NewModelCatalogHolderFrom(catalog),
	})
	return svc, db
}

func testCatalog() config.ModelCatalog {
	return config.ModelCatalog{
		Models: []config.ModelPolicy{
			{
				ModelID:          "model-a",
				RequestsPerMin:   60,
				TokensPerDay:     10_000,
				DailyCostCeiling: 1.0,
				UnitPricePer1K:   0.01,
			},
		},
	}
}

func TestAdmitBooksEveryCall(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupGovernor(t, testCatalog(), clk)

	const n = 5
	for i := 0; i < n; i++ {
		decision := svc.Admit(context.Background(), "model-a", 500)
		if !decision.Allowed {
			t.Fatalf("call %d denied: %s", i, decision.Reason)
		}
	}

	var counter governordomain.UsageCounter
	if err := db.Where("model_id = ? AND day = ?", "model-a", "2026-03-14").First(&counter).Error; err != nil {
		t.Fatalf("load counter: %v", err)
	}
	if counter.RequestCount != n {
		t.Fatalf("request count = %d, want %d", counter.RequestCount, n)
	}
	if counter.TokenCount != n*500 {
		t.Fatalf("token count = %d, want %d", counter.TokenCount, n*500)
	}
	wantCost := float64(n) * 500 / 1000 * 0.01
	if diff := counter.EstimatedCostUnits - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("estimated cost = %f, want %f", counter.EstimatedCostUnits, wantCost)
	}
}

func TestAdmitDeniesOverTokenCeiling(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, _ := setupGovernor(t, testCatalog(), clk)

	if d := svc.Admit(context.Background(), "model-a", 9_500); !d.Allowed {
		t.Fatalf("first call denied: %s", d.Reason)
	}

	d := svc.Admit(context.Background(), "model-a", 1_000)
	if d.Allowed {
		t.Fatal("expected denial over token ceiling")
	}
	if d.Reason != governordomain.ReasonTokenCeiling {
		t.Fatalf("reason = %q, want %q", d.Reason, governordomain.ReasonTokenCeiling)
	}
	if d.RetryAfterSeconds != governordomain.RetryAfterSeconds {
		t.Fatalf("retry after = %d, want %d", d.RetryAfterSeconds, governordomain.RetryAfterSeconds)
	}
}

func TestAdmitDeniesOverCostCeiling(t *testing.T) {
	catalog := testCatalog()
	catalog.Models[0].TokensPerDay = 0
	catalog.Models[0].DailyCostCeiling = 0.05 // 5,000 tokens at 0.01/1k

	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, _ := setupGovernor(t, catalog, clk)

	if d := svc.Admit(context.Background(), "model-a", 4_000); !d.Allowed {
		t.Fatalf("first call denied: %s", d.Reason)
	}
	d := svc.Admit(context.Background(), "model-a", 2_000)
	if d.Allowed || d.Reason != governordomain.ReasonCostCeiling {
		t.Fatalf("decision = %+v, want cost ceiling denial", d)
	}
}

func TestAdmitResetsOnDateRollover(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC))
	svc, db := setupGovernor(t, testCatalog(), clk)

	if d := svc.Admit(context.Background(), "model-a", 9_500); !d.Allowed {
		t.Fatalf("first call denied: %s", d.Reason)
	}
	if d := svc.Admit(context.Background(), "model-a", 1_000); d.Allowed {
		t.Fatal("expected denial before rollover")
	}

	clk.Advance(2 * time.Hour)

	if d := svc.Admit(context.Background(), "model-a", 1_000); !d.Allowed {
		t.Fatalf("call after rollover denied: %s", d.Reason)
	}

	// The old day's counter is retained for audit.
	var prior governordomain.UsageCounter
	if err := db.Where("model_id = ? AND day = ?", "model-a", "2026-03-14").First(&prior).Error; err != nil {
		t.Fatalf("prior day counter missing: %v", err)
	}
}

func TestAdmitFailsOpenForUnknownModel(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	svc, db := setupGovernor(t, testCatalog(), clk)

	d := svc.Admit(context.Background(), "model-unlisted", 1_000_000)
	if !d.Allowed {
		t.Fatalf("unknown model denied: %s", d.Reason)
	}

	var count int64
	db.Model(&governordomain.UsageCounter{}).Count(&count)
	if count != 0 {
		t.Fatalf("unknown model booked a counter, count = %d", count)
	}
}
