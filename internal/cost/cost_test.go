package cost

import (
	"context"
	"math"
	"testing"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/store"
)

func TestPricingForResolvesDatedReleases(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "claude-sonnet-4"},
		{"claude-3-5-haiku-latest", "claude-3-5-haiku"},
		{"claude-3-5-haiku-20241022", "claude-3-5-haiku"},
		{"gemini-2.0-flash", "gemini-2.0-flash"},
		{"gemini-1.5-flash-latest", "gemini-1.5-flash"},
	}
	for _, tc := range cases {
		if got := PricingFor(tc.model); got.Model != tc.want {
			t.Errorf("PricingFor(%q) resolved to %q, want %q", tc.model, got.Model, tc.want)
		}
	}
}

func TestPricingForUnknownModelFallsBack(t *testing.T) {
	p := PricingFor("some-future-model")
	if p.InputCostPer1KTok == 0 {
		t.Fatal("unknown model must price at a non-zero fallback rate")
	}
}

func TestComputeCost(t *testing.T) {
	// 1M input + 1M output on haiku: $0.80 + $4.00.
	got := ComputeCost("claude-3-5-haiku-latest", 1_000_000, 1_000_000)
	if math.Abs(got-4.80) > 1e-9 {
		t.Errorf("ComputeCost = %f, want 4.80", got)
	}

	if got := ComputeCost("claude-sonnet-4-20250514", 0, 0); got != 0 {
		t.Errorf("zero tokens must cost zero, got %f", got)
	}
}

func TestEstimateTokenCount(t *testing.T) {
	if got := EstimateTokenCount(""); got != 0 {
		t.Errorf("empty text estimated at %d tokens", got)
	}
	got := EstimateTokenCount("bitcoin etf approval imminent says analyst")
	if got < 8 || got > 20 {
		t.Errorf("estimate %d outside plausible range for a short headline", got)
	}
}

type fakeLedger struct {
	records    []core.CostRecord
	today      store.CostWindowTotals
	month      store.CostWindowTotals
	totalCalls int
}

func (f *fakeLedger) InsertCostRecord(_ context.Context, r *core.CostRecord) error {
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeLedger) CostTotals(_ context.Context, _, _ time.Time) (*store.CostWindowTotals, error) {
	// The summary asks for today first, then month-to-date.
	f.totalCalls++
	if f.totalCalls == 1 {
		t := f.today
		return &t, nil
	}
	m := f.month
	return &m, nil
}

func (f *fakeLedger) DailyCosts(_ context.Context, _ time.Time) ([]store.DailyCost, error) {
	return nil, nil
}

func (f *fakeLedger) CostsByModel(_ context.Context, _ time.Time) ([]store.ModelCost, error) {
	return nil, nil
}

func TestRecordCachedCallCostsNothing(t *testing.T) {
	ledger := &fakeLedger{}
	tracker := NewTracker(ledger, config.Cost{})

	if err := tracker.Record(context.Background(), "claude-3-5-haiku-latest", "extract_entities", 5000, 800, true); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := tracker.Record(context.Background(), "claude-3-5-haiku-latest", "extract_entities", 5000, 800, false); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(ledger.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(ledger.records))
	}
	cachedRec, liveRec := ledger.records[0], ledger.records[1]
	if !cachedRec.Cached || cachedRec.ComputedCost != 0 {
		t.Errorf("cached record should cost zero, got %f", cachedRec.ComputedCost)
	}
	if liveRec.Cached || liveRec.ComputedCost <= 0 {
		t.Errorf("live record should carry a positive cost, got %f", liveRec.ComputedCost)
	}
}

func TestSummaryAlerts(t *testing.T) {
	ledger := &fakeLedger{
		today: store.CostWindowTotals{TotalCost: 0.75, Calls: 100},
		month: store.CostWindowTotals{TotalCost: 12.0, Calls: 1200},
	}
	tracker := NewTracker(ledger, config.Cost{})

	s, err := tracker.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if !s.DailyAlert {
		t.Error("daily spend of $0.75 should trip the $0.50 alert")
	}
	// Projection can never shrink below month-to-date, so $12 always trips.
	if !s.MonthlyAlert {
		t.Errorf("projected monthly %f should trip the $10 alert", s.ProjectedMonthly)
	}
}

func TestSummaryConfiguredThresholds(t *testing.T) {
	ledger := &fakeLedger{
		today: store.CostWindowTotals{TotalCost: 0.75, Calls: 100},
		month: store.CostWindowTotals{TotalCost: 2.0, Calls: 200},
	}
	tracker := NewTracker(ledger, config.Cost{DailyAlertUSD: 2.0, MonthlyAlertUSD: 500})

	s, err := tracker.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if s.DailyAlert {
		t.Error("$0.75 must not trip a $2 daily threshold")
	}
	if s.MonthlyAlert {
		t.Errorf("projection %f must not trip a $500 threshold", s.ProjectedMonthly)
	}
	if s.DailyLimitUSD != 2.0 || s.MonthlyLimitUSD != 500 {
		t.Errorf("limits = %f / %f", s.DailyLimitUSD, s.MonthlyLimitUSD)
	}
}

func TestSummaryNoAlertsWhenQuiet(t *testing.T) {
	ledger := &fakeLedger{
		today: store.CostWindowTotals{TotalCost: 0.01, Calls: 3},
		month: store.CostWindowTotals{TotalCost: 0.05, Calls: 20},
	}
	s, err := NewTracker(ledger, config.Cost{}).GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if s.DailyAlert || s.MonthlyAlert {
		t.Errorf("quiet ledger tripped alerts: daily=%v monthly=%v", s.DailyAlert, s.MonthlyAlert)
	}
}
