package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"cryptopulse/internal/briefing"
	"cryptopulse/internal/core"
	"cryptopulse/internal/ingest"
	"cryptopulse/internal/narrative"
)

type fakeIngester struct {
	report *ingest.Report
	err    error
	calls  int
}

func (f *fakeIngester) Run(context.Context) (*ingest.Report, error) {
	f.calls++
	return f.report, f.err
}

type fakeProcessor struct {
	since time.Time
	limit int
	err   error
}

func (f *fakeProcessor) ProcessUnassigned(_ context.Context, since time.Time, limit int) (*narrative.BatchStats, error) {
	f.since, f.limit = since, limit
	if f.err != nil {
		return nil, f.err
	}
	return &narrative.BatchStats{Processed: 4, Created: 1}, nil
}

type fakeConsolidator struct {
	dryRun *bool
}

func (f *fakeConsolidator) Run(_ context.Context, dryRun bool) (*narrative.Report, error) {
	f.dryRun = &dryRun
	return &narrative.Report{Candidates: 2, Merged: 1}, nil
}

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(context.Context) (int, error) {
	f.calls++
	return 12, f.err
}

type fakeGenerator struct {
	gotOpts  *briefing.GenerateOptions
	genErr   error
	cleaned  int64
	cleanErr error
}

func (f *fakeGenerator) Generate(_ context.Context, opts briefing.GenerateOptions) (*core.Briefing, error) {
	f.gotOpts = &opts
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &core.Briefing{ID: "b-1", Type: opts.Type}, nil
}

func (f *fakeGenerator) Cleanup(context.Context) (int64, error) {
	return f.cleaned, f.cleanErr
}

func newTestHandlers() (*Handlers, *fakeIngester, *fakeProcessor, *fakeConsolidator, *fakeRefresher, *fakeGenerator) {
	ing := &fakeIngester{report: &ingest.Report{Persisted: 3}}
	proc := &fakeProcessor{}
	cons := &fakeConsolidator{}
	ref := &fakeRefresher{}
	gen := &fakeGenerator{}
	h := NewHandlers(HandlerOptions{
		Ingest:       ing,
		Narratives:   proc,
		Consolidator: cons,
		Signals:      ref,
		Briefings:    gen,
	})
	h.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return h, ing, proc, cons, ref, gen
}

func TestRegisterCoversCatalog(t *testing.T) {
	h, _, _, _, _, _ := newTestHandlers()
	names := h.Register(asynq.NewServeMux())
	if err := verifyCatalog(names); err != nil {
		t.Fatalf("registered handlers do not match catalog: %v", err)
	}
}

func TestFetchNewsHandler(t *testing.T) {
	h, ing, _, _, _, _ := newTestHandlers()
	task := asynq.NewTask(TaskFetchNews, nil)

	if err := h.fetchNews(context.Background(), task); err != nil {
		t.Fatalf("fetchNews: %v", err)
	}
	if ing.calls != 1 {
		t.Errorf("pipeline ran %d times", ing.calls)
	}

	ing.err = errors.New("feeds down")
	if err := h.fetchNews(context.Background(), task); err == nil {
		t.Error("pipeline error should propagate for retry")
	}
}

func TestDetectNarrativesHandler(t *testing.T) {
	h, _, proc, _, _, _ := newTestHandlers()

	if err := h.detectNarratives(context.Background(), asynq.NewTask(TaskDetectNarratives, nil)); err != nil {
		t.Fatalf("detectNarratives: %v", err)
	}
	wantSince := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	if !proc.since.Equal(wantSince) {
		t.Errorf("since = %v, want %v", proc.since, wantSince)
	}
	if proc.limit != defaultDetectLimit {
		t.Errorf("limit = %d, want %d", proc.limit, defaultDetectLimit)
	}
}

func TestConsolidateHandlerIsNotDryRun(t *testing.T) {
	h, _, _, cons, _, _ := newTestHandlers()
	if err := h.consolidateNarratives(context.Background(), asynq.NewTask(TaskConsolidateNarratives, nil)); err != nil {
		t.Fatalf("consolidateNarratives: %v", err)
	}
	if cons.dryRun == nil || *cons.dryRun {
		t.Error("scheduled consolidation must apply merges")
	}
}

func TestComputeSignalsHandler(t *testing.T) {
	h, _, _, _, ref, _ := newTestHandlers()
	if err := h.computeSignals(context.Background(), asynq.NewTask(TaskComputeSignals, nil)); err != nil {
		t.Fatalf("computeSignals: %v", err)
	}
	if ref.calls != 1 {
		t.Errorf("Refresh ran %d times", ref.calls)
	}

	ref.err = errors.New("store down")
	if err := h.computeSignals(context.Background(), asynq.NewTask(TaskComputeSignals, nil)); err == nil {
		t.Error("refresh error should propagate for retry")
	}
}

func TestBriefingHandlerScheduledDefaults(t *testing.T) {
	h, _, _, _, _, gen := newTestHandlers()
	fn := h.briefingHandler(core.BriefingMorning)

	if err := fn(context.Background(), asynq.NewTask(TaskMorningBriefing, nil)); err != nil {
		t.Fatalf("briefing handler: %v", err)
	}
	if gen.gotOpts == nil {
		t.Fatal("Generate never called")
	}
	if gen.gotOpts.Type != core.BriefingMorning {
		t.Errorf("Type = %q", gen.gotOpts.Type)
	}
	if gen.gotOpts.Force || gen.gotOpts.IsSmoke {
		t.Error("scheduled run must not force or smoke")
	}
}

func TestBriefingHandlerParsesPayload(t *testing.T) {
	h, _, _, _, _, gen := newTestHandlers()
	fn := h.briefingHandler(core.BriefingEvening)

	task := asynq.NewTask(TaskEveningBriefing, []byte(`{"force":true,"is_smoke":true}`))
	if err := fn(context.Background(), task); err != nil {
		t.Fatalf("briefing handler: %v", err)
	}
	if !gen.gotOpts.Force || !gen.gotOpts.IsSmoke {
		t.Errorf("payload not applied: %+v", gen.gotOpts)
	}
}

func TestBriefingHandlerTreatsDayGuardAsNoop(t *testing.T) {
	h, _, _, _, _, gen := newTestHandlers()
	gen.genErr = briefing.ErrAlreadyGenerated
	fn := h.briefingHandler(core.BriefingMorning)

	if err := fn(context.Background(), asynq.NewTask(TaskMorningBriefing, nil)); err != nil {
		t.Errorf("day guard should be a no-op, got %v", err)
	}
}

func TestBriefingHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h, _, _, _, _, _ := newTestHandlers()
	fn := h.briefingHandler(core.BriefingMorning)

	err := fn(context.Background(), asynq.NewTask(TaskMorningBriefing, []byte("{broken")))
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should skip retry, got %v", err)
	}
}

func TestCleanupHandler(t *testing.T) {
	h, _, _, _, _, gen := newTestHandlers()
	gen.cleaned = 7
	if err := h.cleanupBriefings(context.Background(), asynq.NewTask(TaskCleanupBriefings, nil)); err != nil {
		t.Fatalf("cleanupBriefings: %v", err)
	}

	gen.cleanErr = errors.New("store down")
	if err := h.cleanupBriefings(context.Background(), asynq.NewTask(TaskCleanupBriefings, nil)); err == nil {
		t.Error("cleanup error should propagate")
	}
}
