package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"talentflex/internal/analysis"
	"talentflex/internal/application"
	"talentflex/internal/database"
	"talentflex/internal/database/dbtest"
	"talentflex/internal/events"
)

type engineFunc func(ctx context.Context, req analysis.Request) (*analysis.Report, error)

func (f engineFunc) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	return f(ctx, req)
}

// blockingEngine parks every call until release is closed.
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (e *blockingEngine) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.started <- struct{}{}
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return analysis.NewStaticEngine(0).Analyze(ctx, req)
}

func (e *blockingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Operation)
	}
	return out
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) DeleteObject(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, key)
	return nil
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	publisher *recordingPublisher
	remover   *recordingRemover
}

func newFixture(t *testing.T, engine analysis.Engine) *fixture {
	t.Helper()
	db := dbtest.New(t)
	f := &fixture{db: db, publisher: &recordingPublisher{}, remover: &recordingRemover{}}
	f.svc = NewService(db, engine, Options{
		Publisher:       f.publisher,
		Objects:         f.remover,
		AnalysisTimeout: time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) create(t *testing.T, req application.Requirements) *database.JobApplication {
	t.Helper()
	app, err := f.svc.Create(context.Background(), Posting{
		JobTitle:    "Senior Product Manager",
		CompanyName: "TechCorp Inc.",
		Location:    "Remote",
		Requires:    req,
	})
	require.NoError(t, err)
	return app
}

// claimed creates an application already bound to cand-1.
func (f *fixture) claimed(t *testing.T, req application.Requirements) *database.JobApplication {
	t.Helper()
	app := f.create(t, req)
	got, err := f.svc.Claim(context.Background(), app.ID, "cand-1")
	require.NoError(t, err)
	return got
}

func (f *fixture) reload(t *testing.T, id string) *database.JobApplication {
	t.Helper()
	app, err := f.svc.Details(context.Background(), id)
	require.NoError(t, err)
	return app
}

func fileRef(slot application.FileType, key string) application.FileRef {
	ref := application.FileRef{
		URL:              "https://files.example.com/" + key,
		ObjectKey:        key,
		OriginalFilename: key + ".bin",
		MimeType:         "application/pdf",
		SizeBytes:        1024,
	}
	if slot == application.FileVideo {
		d := 95
		ref.MimeType = "video/mp4"
		ref.DurationSeconds = &d
	}
	return ref
}

var videoAndResume = application.Requirements{Video: true, Resume: true}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)
	assert.Equal(t, application.StatusUnclaimed, app.Status)
	assert.Len(t, app.Token, 12)

	_, err := f.svc.UploadFile(ctx, app.ID, application.FileVideo, fileRef(application.FileVideo, "v1"))
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, f.reload(t, app.ID).Status)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.ErrorIs(t, err, ErrIncompleteSubmission)
	var incomplete *IncompleteSubmissionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []application.FileType{application.FileResume}, incomplete.Missing)

	_, err = f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r2"))
	require.NoError(t, err)
	result, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AnalysisCount)

	got := f.reload(t, app.ID)
	assert.Equal(t, application.StatusAnalyzed, got.Status)
	assert.Equal(t, application.AnalysisCompleted, got.AnalysisStatus)
	assert.Equal(t, 1, got.AnalysisCount)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, 78.0, got.Analysis.OverallScore)
	_, hasCase := got.Analysis.Scores.Data().Get(application.CategoryCaseStudy)
	assert.False(t, hasCase)

	submitted, err := f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = f.svc.ReplaceFile(ctx, app.ID, application.FileResume)
	require.NoError(t, err)
	got = f.reload(t, app.ID)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.Equal(t, application.AnalysisPending, got.AnalysisStatus)
	assert.Nil(t, got.Analysis)
	assert.Nil(t, got.SubmittedAt)
	assert.Contains(t, f.remover.removed, "r2")

	_, err = f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r3"))
	require.NoError(t, err)
	result, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AnalysisCount)
	got = f.reload(t, app.ID)
	assert.Equal(t, application.StatusAnalyzed, got.Status)
	assert.Equal(t, 2, got.AnalysisCount)

	history, err := f.svc.History(ctx, app.ID)
	require.NoError(t, err)
	ops := make([]string, 0, len(history))
	for _, h := range history {
		ops = append(ops, h.Operation)
	}
	assert.Equal(t, []string{
		OpCreate, OpUploadFile, OpUploadFile, OpRequestAnalysis, OpAnalysisCompleted,
		OpSubmit, OpReplaceFile, OpUploadFile, OpRequestAnalysis, OpAnalysisCompleted,
	}, ops)
	assert.Equal(t, ops, f.publisher.operations())
}

func TestUploadFileValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	_, err := f.svc.UploadFile(ctx, app.ID, application.FileType("portfolio"), fileRef(application.FileResume, "x"))
	assert.ErrorIs(t, err, ErrInvalidSlot)

	noDuration := fileRef(application.FileVideo, "v")
	noDuration.DurationSeconds = nil
	_, err = f.svc.UploadFile(ctx, app.ID, application.FileVideo, noDuration)
	assert.ErrorIs(t, err, ErrInvalidFileRef)

	_, err = f.svc.UploadFile(ctx, "missing", application.FileResume, fileRef(application.FileResume, "x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadFileReplacesSlotInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	first, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "a"))
	require.NoError(t, err)
	second, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "b"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got := f.reload(t, app.ID)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "b", got.Files[0].ObjectKey)
	assert.Equal(t, []string{"a"}, f.remover.removed)
}

func TestUploadFileLockedAfterAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, application.Requirements{Resume: true})

	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)
	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)

	_, err = f.svc.UploadFile(ctx, app.ID, application.FileCoverLetter, fileRef(application.FileCoverLetter, "c"))
	assert.ErrorIs(t, err, ErrApplicationLocked)

	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r2"))
	assert.ErrorIs(t, err, ErrApplicationLocked)
}

func TestRequestAnalysisGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, application.Requirements{Resume: true})

	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)
	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.RequestAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceFileThenAnalyzeIsIncomplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	for _, slot := range []application.FileType{application.FileVideo, application.FileResume} {
		_, err := f.svc.UploadFile(ctx, app.ID, slot, fileRef(slot, string(slot)))
		require.NoError(t, err)
	}
	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)

	_, err = f.svc.ReplaceFile(ctx, app.ID, application.FileVideo)
	require.NoError(t, err)
	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	var incomplete *IncompleteSubmissionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []application.FileType{application.FileVideo}, incomplete.Missing)
}

func TestReplaceFileOnDraftStillClears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)
	got, err := f.svc.ReplaceFile(ctx, app.ID, application.FileResume)
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.Empty(t, f.reload(t, app.ID).Files)

	_, err = f.svc.ReplaceFile(ctx, app.ID, application.FileResume)
	assert.NoError(t, err)
	_, err = f.svc.ReplaceFile(ctx, app.ID, application.FileType("nope"))
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestReplaceAllKeepsFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	for _, slot := range []application.FileType{application.FileVideo, application.FileResume} {
		_, err := f.svc.UploadFile(ctx, app.ID, slot, fileRef(slot, string(slot)))
		require.NoError(t, err)
	}
	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)

	got, err := f.svc.ReplaceAll(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.Nil(t, got.SubmittedAt)

	reloaded := f.reload(t, app.ID)
	assert.Len(t, reloaded.Files, 2)
	assert.Nil(t, reloaded.Analysis)
	assert.Equal(t, application.AnalysisPending, reloaded.AnalysisStatus)
	assert.Empty(t, f.remover.removed)

	result, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AnalysisCount)
}

func TestSubmitRequiresCompletedAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	_, err := f.svc.Submit(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotReadyToSubmit)

	_, err = f.svc.Submit(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRequestAnalysisRunsOnce(t *testing.T) {
	ctx := context.Background()
	engine := newBlockingEngine()
	f := newFixture(t, engine)
	app := f.create(t, application.Requirements{Resume: true})
	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.RequestAnalysis(ctx, app.ID)
		first <- err
	}()
	<-engine.started

	// The second caller returns without waiting on the engine.
	_, second := f.svc.RequestAnalysis(ctx, app.ID)
	close(engine.release)

	errs := []error{<-first, second}
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrAnalysisInProgress)
	assert.Equal(t, 1, engine.callCount())

	got := f.reload(t, app.ID)
	assert.Equal(t, 1, got.AnalysisCount)
	var rows int64
	require.NoError(t, f.db.Model(&database.ApplicationAnalysis{}).Where("application_id = ?", app.ID).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestStaleAnalysisResultIsDiscarded(t *testing.T) {
	ctx := context.Background()
	engine := newBlockingEngine()
	f := newFixture(t, engine)
	app := f.create(t, application.Requirements{Resume: true})
	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RequestAnalysis(ctx, app.ID)
		done <- err
	}()
	<-engine.started

	_, err = f.svc.ReplaceAll(ctx, app.ID)
	require.NoError(t, err)
	close(engine.release)

	assert.ErrorIs(t, <-done, ErrStaleAnalysis)
	got := f.reload(t, app.ID)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.Equal(t, application.AnalysisPending, got.AnalysisStatus)
	assert.Equal(t, 0, got.AnalysisCount)
	assert.Nil(t, got.Analysis)
}

func TestUploadDuringAnalysisInvalidatesRun(t *testing.T) {
	ctx := context.Background()
	engine := newBlockingEngine()
	f := newFixture(t, engine)
	app := f.create(t, application.Requirements{Resume: true})
	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)

	epoch, err := f.svc.BeginAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r2"))
	require.NoError(t, err)
	close(engine.release)

	_, err = f.svc.RunAnalysis(ctx, app.ID, epoch)
	assert.ErrorIs(t, err, ErrStaleAnalysis)
	assert.Equal(t, 0, engine.callCount())
}

func TestAnalysisEngineFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	fail := true
	engine := engineFunc(func(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
		if fail {
			return nil, errors.New("model overloaded")
		}
		return analysis.NewStaticEngine(0).Analyze(ctx, req)
	})
	f := newFixture(t, engine)
	app := f.create(t, application.Requirements{Resume: true})
	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.ErrorIs(t, err, ErrAnalysisEngineFailure)
	assert.ErrorContains(t, err, "model overloaded")
	assert.True(t, Retryable(err))

	got := f.reload(t, app.ID)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.Equal(t, application.AnalysisFailed, got.AnalysisStatus)
	assert.Contains(t, got.AnalysisError, "model overloaded")

	fail = false
	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.AnalysisCompleted, f.reload(t, app.ID).AnalysisStatus)
}

func TestAnalysisTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(time.Hour))
	f.svc.timeout = 20 * time.Millisecond
	app := f.create(t, application.Requirements{Resume: true})
	_, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r"))
	require.NoError(t, err)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.ErrorIs(t, err, ErrAnalysisTimeout)
	assert.ErrorIs(t, err, ErrAnalysisEngineFailure)

	got := f.reload(t, app.ID)
	assert.Equal(t, application.AnalysisFailed, got.AnalysisStatus)
	assert.Equal(t, application.StatusDraft, got.Status)
}

func TestInvalidReportFailsAnalysis(t *testing.T) {
	ctx := context.Background()
	engine := engineFunc(func(context.Context, analysis.Request) (*analysis.Report, error) {
		return &analysis.Report{OverallScore: 140, Summary: "too good"}, nil
	})
	f := newFixture(t, engine)
	app := f.claimed(t, application.Requirements{})

	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	assert.ErrorIs(t, err, ErrAnalysisEngineFailure)
	assert.Equal(t, application.AnalysisFailed, f.reload(t, app.ID).AnalysisStatus)
}

func TestFailAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.claimed(t, application.Requirements{})

	epoch, err := f.svc.BeginAnalysis(ctx, app.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.FailAnalysis(ctx, app.ID, epoch+1, nil), ErrStaleAnalysis)
	require.NoError(t, f.svc.FailAnalysis(ctx, app.ID, epoch, errors.New("enqueue failed")))

	got := f.reload(t, app.ID)
	assert.Equal(t, application.AnalysisFailed, got.AnalysisStatus)
	assert.Equal(t, "enqueue failed", got.AnalysisError)
}

func TestExpireStaleAnalyses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	stuck := f.claimed(t, application.Requirements{})
	fresh := f.claimed(t, application.Requirements{})

	stuckEpoch, err := f.svc.BeginAnalysis(ctx, stuck.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginAnalysis(ctx, fresh.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&database.JobApplication{}).
		Where("id = ?", stuck.ID).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	n, err := f.svc.ExpireStaleAnalyses(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, stuck.ID)
	assert.Equal(t, application.AnalysisFailed, got.AnalysisStatus)
	assert.Equal(t, ErrAnalysisTimeout.Error(), got.AnalysisError)
	assert.Equal(t, application.AnalysisProcessing, f.reload(t, fresh.ID).AnalysisStatus)

	_, err = f.svc.RunAnalysis(ctx, stuck.ID, stuckEpoch)
	assert.ErrorIs(t, err, ErrStaleAnalysis)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, videoAndResume)

	got, err := f.svc.Claim(ctx, app.ID, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, application.StatusDraft, got.Status)
	assert.True(t, got.ClaimedBy("cand-1"))

	_, err = f.svc.Claim(ctx, app.ID, "cand-1")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, app.ID, "cand-2")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	history, err := f.svc.History(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRecordDecisionOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.claimed(t, application.Requirements{})

	_, err := f.svc.RecordDecision(ctx, app.ID, "emp-1", application.DecisionInterested, "")
	require.ErrorIs(t, err, ErrApplicationNotSubmitted)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)

	first, err := f.svc.RecordDecision(ctx, app.ID, "emp-1", application.DecisionInterested, "strong")
	require.NoError(t, err)
	second, err := f.svc.RecordDecision(ctx, app.ID, "emp-1", application.DecisionRejected, "changed my mind")
	require.NoError(t, err)
	_, err = f.svc.RecordDecision(ctx, app.ID, "emp-2", application.DecisionInterested, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, application.DecisionRejected, second.Decision)
	assert.Equal(t, "changed my mind", second.Note)

	var rows int64
	require.NoError(t, f.db.Model(&database.EmployerDecision{}).Where("application_id = ?", app.ID).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)

	_, err = f.svc.RecordDecision(ctx, app.ID, "emp-1", application.Decision("maybe"), "")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	assert.Equal(t, application.StatusSubmitted, f.reload(t, app.ID).Status)
}

func TestInvariantsHoldAcrossOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, application.Requirements{Video: true, Resume: true, CaseStudy: true})

	check := func() {
		t.Helper()
		got := f.reload(t, app.ID)
		present := map[application.FileType]bool{}
		for _, file := range got.Files {
			present[file.FileType] = true
		}
		switch got.Status {
		case application.StatusSubmitted:
			assert.NotNil(t, got.SubmittedAt)
			assert.Equal(t, application.AnalysisCompleted, got.AnalysisStatus)
			assert.NotNil(t, got.Analysis)
		case application.StatusAnalyzed:
			assert.NotNil(t, got.Analysis)
			assert.Empty(t, got.RequirementFlags().Missing(present))
		case application.StatusDraft, application.StatusUnclaimed:
			assert.Nil(t, got.SubmittedAt)
		}
	}

	steps := []func() error{
		func() error { _, err := f.svc.UploadFile(ctx, app.ID, application.FileVideo, fileRef(application.FileVideo, "v")); return err },
		func() error { _, err := f.svc.UploadFile(ctx, app.ID, application.FileResume, fileRef(application.FileResume, "r")); return err },
		func() error {
			_, err := f.svc.UploadFile(ctx, app.ID, application.FileCaseStudy, fileRef(application.FileCaseStudy, "c"))
			return err
		},
		func() error { _, err := f.svc.RequestAnalysis(ctx, app.ID); return err },
		func() error { _, err := f.svc.Submit(ctx, app.ID); return err },
		func() error { _, err := f.svc.ReplaceFile(ctx, app.ID, application.FileCaseStudy); return err },
		func() error {
			_, err := f.svc.UploadFile(ctx, app.ID, application.FileCaseStudy, fileRef(application.FileCaseStudy, "c2"))
			return err
		},
		func() error { _, err := f.svc.RequestAnalysis(ctx, app.ID); return err },
		func() error { _, err := f.svc.Submit(ctx, app.ID); return err },
		func() error { _, err := f.svc.ReplaceAll(ctx, app.ID); return err },
	}
	for _, step := range steps {
		require.NoError(t, step())
		check()
	}
	assert.Zero(t, f.svc.locks.size())
}

func TestAnalysisErrorKeepsValidUTF8(t *testing.T) {
	ctx := context.Background()
	engine := engineFunc(func(context.Context, analysis.Request) (*analysis.Report, error) {
		return nil, errors.New("aa" + strings.Repeat("分", 300))
	})
	f := newFixture(t, engine)
	app := f.claimed(t, application.Requirements{})

	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.ErrorIs(t, err, ErrAnalysisEngineFailure)

	got := f.reload(t, app.ID)
	assert.Equal(t, application.AnalysisFailed, got.AnalysisStatus)
	assert.LessOrEqual(t, len(got.AnalysisError), 512)
	assert.True(t, utf8.ValidString(got.AnalysisError))
	assert.True(t, strings.HasSuffix(got.AnalysisError, "分"))

	history, err := f.svc.History(ctx, app.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, OpAnalysisFailed, last.Operation)
	assert.True(t, utf8.ValidString(last.Detail))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "分" is three bytes; a cut inside it drops the whole rune.
	assert.Equal(t, "a", truncate("a分", 2))
	assert.Equal(t, "a分", truncate("a分b", 4))
	assert.True(t, utf8.ValidString(truncate("x\xffy", 10)))
}

func TestRequestAnalysisRequiresClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.create(t, application.Requirements{})

	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	got := f.reload(t, app.ID)
	assert.Equal(t, application.StatusUnclaimed, got.Status)
	assert.Equal(t, application.AnalysisPending, got.AnalysisStatus)

	_, err = f.svc.Claim(ctx, app.ID, "cand-1")
	require.NoError(t, err)
	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	assert.NoError(t, err)
}

func TestInputsAreStoredCanonically(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.claimed(t, application.Requirements{Resume: true})

	file, err := f.svc.UploadFile(ctx, app.ID, application.FileType(" Resume "), fileRef(application.FileResume, "r"))
	require.NoError(t, err)
	assert.Equal(t, application.FileResume, file.FileType)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)

	saved, err := f.svc.RecordDecision(ctx, app.ID, "emp-1", application.Decision("Interested"), "")
	require.NoError(t, err)
	assert.Equal(t, application.DecisionInterested, saved.Decision)

	interested := application.DecisionInterested
	decided, err := f.svc.EmployerDecisions(ctx, "emp-1", &interested)
	require.NoError(t, err)
	assert.Len(t, decided, 1)

	items, _, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 1, items[0].InterestedEmployers)

	_, err = f.svc.ReplaceFile(ctx, app.ID, application.FileType("RESUME"))
	require.NoError(t, err)
	assert.Empty(t, f.reload(t, app.ID).Files)
}

func TestEmployerDecisionsHideReopenedApplications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	app := f.claimed(t, application.Requirements{})

	_, err := f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordDecision(ctx, app.ID, "emp-1", application.DecisionInterested, "")
	require.NoError(t, err)

	saved, err := f.svc.EmployerDecisions(ctx, "emp-1", nil)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	_, err = f.svc.ReplaceAll(ctx, app.ID)
	require.NoError(t, err)
	saved, err = f.svc.EmployerDecisions(ctx, "emp-1", nil)
	require.NoError(t, err)
	assert.Empty(t, saved)

	_, err = f.svc.RequestAnalysis(ctx, app.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, app.ID)
	require.NoError(t, err)
	saved, err = f.svc.EmployerDecisions(ctx, "emp-1", nil)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, application.DecisionInterested, saved[0].Decision.Decision)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analysis.NewStaticEngine(0))
	mine := f.claimed(t, application.Requirements{})
	other := f.create(t, application.Requirements{})
	_, err := f.svc.Claim(ctx, other.ID, "cand-2")
	require.NoError(t, err)
	f.create(t, application.Requirements{})

	items, total, err := f.svc.List(ctx, ListFilter{CandidateID: "cand-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, mine.ID, items[0].Application.ID)

	_, total, err = f.svc.List(ctx, ListFilter{Query: "product"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	for _, q := range []string{"%", "_", "senior_product"} {
		_, total, err = f.svc.List(ctx, ListFilter{Query: q})
		require.NoError(t, err)
		assert.Zero(t, total, q)
	}
}
