package cost

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/store"
)

// Default alert thresholds, applied when the config carries none. Tripping
// either only logs and flags the summary; nothing is blocked.
const (
	DailyAlertUSD   = 0.50
	MonthlyAlertUSD = 10.0
)

// Ledger is the slice of the store the tracker needs.
type Ledger interface {
	InsertCostRecord(ctx context.Context, r *core.CostRecord) error
	CostTotals(ctx context.Context, from, to time.Time) (*store.CostWindowTotals, error)
	DailyCosts(ctx context.Context, since time.Time) ([]store.DailyCost, error)
	CostsByModel(ctx context.Context, since time.Time) ([]store.ModelCost, error)
}

// Tracker prices calls and appends them to the ledger.
type Tracker struct {
	ledger     Ledger
	dailyUSD   float64
	monthlyUSD float64
}

// NewTracker wires a tracker to the spend ledger with the configured alert
// thresholds.
func NewTracker(ledger Ledger, cfg config.Cost) *Tracker {
	daily := cfg.DailyAlertUSD
	if daily <= 0 {
		daily = DailyAlertUSD
	}
	monthly := cfg.MonthlyAlertUSD
	if monthly <= 0 {
		monthly = MonthlyAlertUSD
	}
	return &Tracker{ledger: ledger, dailyUSD: daily, monthlyUSD: monthly}
}

// Record appends one call to the ledger. Cached hits are recorded at zero
// cost so the cache's savings show up in the summary.
func (t *Tracker) Record(ctx context.Context, model, operation string, inputTokens, outputTokens int64, cached bool) error {
	rec := &core.CostRecord{
		Model:        model,
		Operation:    operation,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cached:       cached,
		Timestamp:    time.Now().UTC(),
	}
	if !cached {
		rec.ComputedCost = ComputeCost(model, inputTokens, outputTokens)
	}
	if err := t.ledger.InsertCostRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to record cost: %w", err)
	}
	return nil
}

// Summary is the cost dashboard payload.
type Summary struct {
	Today            store.CostWindowTotals `json:"today"`
	MonthToDate      store.CostWindowTotals `json:"month_to_date"`
	ProjectedMonthly float64                `json:"projected_monthly"`
	DailyAlert       bool                   `json:"daily_alert"`
	MonthlyAlert     bool                   `json:"monthly_alert"`
	DailyLimitUSD    float64                `json:"daily_limit_usd"`
	MonthlyLimitUSD  float64                `json:"monthly_limit_usd"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// GetSummary aggregates today and month-to-date spend and projects the month
// from the daily run rate so far.
func (t *Tracker) GetSummary(ctx context.Context) (*Summary, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	today, err := t.ledger.CostTotals(ctx, dayStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate today's costs: %w", err)
	}
	month, err := t.ledger.CostTotals(ctx, monthStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate month costs: %w", err)
	}

	daysElapsed := now.Sub(monthStart).Hours() / 24
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	daysInMonth := float64(time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day())
	projected := month.TotalCost / daysElapsed * daysInMonth

	s := &Summary{
		Today:            *today,
		MonthToDate:      *month,
		ProjectedMonthly: projected,
		DailyAlert:       today.TotalCost > t.dailyUSD,
		MonthlyAlert:     projected > t.monthlyUSD,
		DailyLimitUSD:    t.dailyUSD,
		MonthlyLimitUSD:  t.monthlyUSD,
		GeneratedAt:      now,
	}
	if s.DailyAlert {
		logger.Warn("daily cost alert threshold exceeded", "spent_usd", today.TotalCost, "threshold_usd", t.dailyUSD)
	}
	if s.MonthlyAlert {
		logger.Warn("projected monthly cost exceeds threshold", "projected_usd", projected, "threshold_usd", t.monthlyUSD)
	}
	return s, nil
}

// Daily returns per-day spend for the trailing N days.
func (t *Tracker) Daily(ctx context.Context, days int) ([]store.DailyCost, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	return t.ledger.DailyCosts(ctx, since)
}

// ByModel returns per-model spend for the trailing N days.
func (t *Tracker) ByModel(ctx context.Context, days int) ([]store.ModelCost, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	return t.ledger.CostsByModel(ctx, since)
}

// FormatSummary renders a summary for the CLI cost report.
func FormatSummary(s *Summary, byModel []store.ModelCost) string {
	var sb strings.Builder

	sb.WriteString("LLM Cost Report\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString(fmt.Sprintf("Today:          $%.4f (%d calls, %d cached)\n",
		s.Today.TotalCost, s.Today.Calls, s.Today.CachedCalls))
	sb.WriteString(fmt.Sprintf("Month to date:  $%.4f (%d calls, %d cached)\n",
		s.MonthToDate.TotalCost, s.MonthToDate.Calls, s.MonthToDate.CachedCalls))
	sb.WriteString(fmt.Sprintf("Projected:      $%.2f/month\n", s.ProjectedMonthly))

	if s.DailyAlert {
		sb.WriteString(fmt.Sprintf("⚠️  daily spend over $%.2f\n", s.DailyLimitUSD))
	}
	if s.MonthlyAlert {
		sb.WriteString(fmt.Sprintf("⚠️  projected monthly spend over $%.2f\n", s.MonthlyLimitUSD))
	}

	if len(byModel) > 0 {
		sb.WriteString("\nBy model:\n")
		for _, m := range byModel {
			sb.WriteString(fmt.Sprintf("   %-32s $%.4f (%d calls, %.1fK in / %.1fK out)\n",
				m.Model, m.TotalCost, m.Calls,
				float64(m.InputTokens)/1000, float64(m.OutputTokens)/1000))
		}
	}

	return sb.String()
}
