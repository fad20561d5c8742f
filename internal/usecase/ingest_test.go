package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/storage"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

type fetchCall struct {
	query string
	limit int
}

type fakeFeed struct {
	byQuery map[string][]domain.Candidate
	err     error
	calls   []fetchCall
}

func (f *fakeFeed) Fetch(_ context.Context, query string, limit int) ([]domain.Candidate, error) {
	f.calls = append(f.calls, fetchCall{query, limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.byQuery[query], nil
}

type fakeExtractor struct {
	doc   domain.ExtractedDocument
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string) (domain.ExtractedDocument, error) {
	f.calls++
	return f.doc, f.err
}

type fakeGenerator struct {
	summaryCalls []domain.ReadingLevel
	quizCalls    int
	preCalls     int

	failLevel domain.ReadingLevel
	quiz      domain.Quiz
	quizErr   error
	preErr    error
}

func (g *fakeGenerator) Summarize(_ context.Context, title, _ string, level domain.ReadingLevel) (string, error) {
	g.summaryCalls = append(g.summaryCalls, level)
	if level == g.failLevel {
		return "", fmt.Errorf("generate %s summary: %w: empty summary", level, domain.ErrValidation)
	}
	return fmt.Sprintf("%s summary of %s", level, title), nil
}

func (g *fakeGenerator) Quiz(context.Context, string, string) (domain.Quiz, error) {
	g.quizCalls++
	if g.quizErr != nil {
		return domain.Quiz{}, g.quizErr
	}
	return g.quiz, nil
}

func (g *fakeGenerator) PreReading(context.Context, string, string, string, string) (domain.PreReading, error) {
	g.preCalls++
	if g.preErr != nil {
		return domain.PreReading{}, g.preErr
	}
	return domain.PreReading{
		Jargon:                   []domain.JargonEntry{{Term: "t", Definition: "d"}},
		Prerequisites:            []domain.PrerequisiteEntry{{Concept: "c", WhyNeeded: "w"}},
		DifficultyLevel:          domain.DifficultyAdvanced,
		EstimatedReadTimeMinutes: 20,
		KeyConcepts:              []string{"k"},
	}, nil
}

type fakeNotifier struct {
	digests []string
	err     error
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.digests = append(n.digests, digest)
	return n.err
}

func sixQuestionQuiz() domain.Quiz {
	quiz := domain.Quiz{}
	for i := 0; i < 6; i++ {
		quiz.Questions = append(quiz.Questions, domain.QuizQuestion{
			Question:     fmt.Sprintf("q%d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
			Explanation:  "e",
		})
	}
	return quiz
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC)
}

func candidate(id string, published time.Time) domain.Candidate {
	return domain.Candidate{
		ExternalID:  id,
		Title:       "Paper " + id,
		Abstract:    "Abstract of " + id,
		Authors:     []string{"Ada Lovelace"},
		Categories:  []string{"cs.LG"},
		PublishedAt: published,
		PDFURL:      "https://arxiv.org/pdf/" + id + ".pdf",
	}
}

var (
	mlField = domain.Field{ID: storage.FieldID("ml"), Slug: "ml", Name: "Machine Learning", ArxivQuery: "cat:cs.LG"}
	cvField = domain.Field{ID: storage.FieldID("cv"), Slug: "cv", Name: "Computer Vision", ArxivQuery: "cat:cs.CV"}
)

const runDate = "2024-01-05"

type harness struct {
	store     *storage.MemoryStore
	feed      *fakeFeed
	extractor *fakeExtractor
	generator *fakeGenerator
	notifier  *fakeNotifier
	ingestor  *Ingestor
}

func newHarness(t *testing.T, fields ...domain.Field) *harness {
	t.Helper()
	if len(fields) == 0 {
		fields = []domain.Field{mlField}
	}
	h := &harness{
		store: storage.NewMemoryStore(fields),
		feed: &fakeFeed{byQuery: map[string][]domain.Candidate{
			"cat:cs.LG": {candidate("A", day(1)), candidate("B", day(3)), candidate("U", day(2))},
			"cat:cs.CV": {candidate("C", day(2))},
		}},
		extractor: &fakeExtractor{doc: domain.ExtractedDocument{Text: strings.Repeat("full text ", 30), PageCount: 2, CharacterCount: 300, WordCount: 60}},
		generator: &fakeGenerator{quiz: sixQuestionQuiz()},
		notifier:  &fakeNotifier{},
	}
	h.ingestor = h.build(h.store)
	return h
}

func (h *harness) build(store ports.Store) *Ingestor {
	return NewIngestor(IngestorDeps{
		Store:         store,
		Feed:          h.feed,
		Extractor:     h.extractor,
		Generator:     h.generator,
		Notifier:      h.notifier,
		Clock:         func() time.Time { return time.Date(2024, 1, 5, 23, 30, 0, 0, time.FixedZone("X", -5*3600)) },
		MinTextLength: 100,
	})
}

func markUsed(t *testing.T, store *storage.MemoryStore, field domain.Field, date, externalID string) domain.Paper {
	t.Helper()
	ctx := context.Background()
	paper, err := store.UpsertPaper(ctx, domain.PaperInputFromCandidate(candidate(externalID, day(2))))
	require.NoError(t, err)
	_, err = store.CreateAssignment(ctx, date, field.ID, paper.ID)
	require.NoError(t, err)
	return paper
}

func TestIngestSelectsNewestUnusedCandidate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	markUsed(t, h.store, mlField, "2024-01-01", "U")
	ctx := context.Background()

	report := h.ingestor.IngestDaily(ctx, runDate)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ml", res.FieldSlug)
	assert.Equal(t, "B", res.ExternalID)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 0, report.FailCount)

	assignment, err := h.store.GetAssignment(ctx, mlField.ID, runDate)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	require.NotNil(t, res.PaperID)
	assert.Equal(t, *res.PaperID, assignment.PaperID)

	paper, err := h.store.GetPaper(ctx, assignment.PaperID)
	require.NoError(t, err)
	assert.Equal(t, "B", paper.ExternalID)
	assert.True(t, paper.HasFullText())

	assert.Equal(t, []fetchCall{{query: "cat:cs.LG", limit: 50}}, h.feed.calls)
	assert.Equal(t, domain.ReadingLevels, h.generator.summaryCalls)

	stats := h.store.Stats()
	assert.Equal(t, 2, stats.Papers)
	assert.Equal(t, 2, stats.Assignments)
	assert.Equal(t, 3, stats.Summaries)
	assert.Equal(t, 1, stats.Quizzes)
	assert.Equal(t, 1, stats.PreReadings)
}

func TestIngestNoCandidatesIsolatesField(t *testing.T) {
	t.Parallel()
	empty := domain.Field{ID: storage.FieldID("empty"), Slug: "empty", Name: "Empty", ArxivQuery: "cat:none"}
	h := newHarness(t, empty, mlField)

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.Len(t, report.Results, 2)
	assert.False(t, report.Results[0].Success)
	assert.Equal(t, "No papers found on arXiv", report.Results[0].Error)
	assert.Nil(t, report.Results[0].PaperID)
	assert.True(t, report.Results[1].Success)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.FailCount)

	stats := h.store.Stats()
	assert.Equal(t, 1, stats.Papers)
	assert.Equal(t, 1, stats.Assignments)
}

func TestIngestNoCandidatesWrapsNotFound(t *testing.T) {
	t.Parallel()
	assert.True(t, errors.Is(ErrNoCandidates, domain.ErrNotFound))
}

func TestIngestRerunPerformsNoWrites(t *testing.T) {
	t.Parallel()
	h := newHarness(t, mlField, cvField)
	ctx := context.Background()

	first := h.ingestor.IngestDaily(ctx, runDate)
	require.Equal(t, 2, first.SuccessCount)
	writes := h.store.Stats().Writes
	require.Len(t, h.feed.calls, 2)
	require.Len(t, h.generator.summaryCalls, 6)
	require.Equal(t, 2, h.generator.quizCalls)
	require.Equal(t, 2, h.extractor.calls)

	second := h.ingestor.IngestDaily(ctx, runDate)

	assert.Equal(t, 2, second.SuccessCount)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, writes, h.store.Stats().Writes)
	assert.Len(t, h.feed.calls, 2)
	assert.Len(t, h.generator.summaryCalls, 6)
	assert.Equal(t, 2, h.generator.quizCalls)
	assert.Equal(t, 2, h.extractor.calls)
	assert.Equal(t, 2, h.generator.preCalls)
}

func TestIngestResumesOnlyMissingArtifacts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.generator.failLevel = domain.LevelMiddle
	crashed := h.ingestor.IngestDaily(ctx, runDate)
	require.False(t, crashed.Results[0].Success)
	assert.Contains(t, crashed.Results[0].Error, "validation failure")
	assert.Equal(t, []domain.ReadingLevel{domain.LevelGrade5, domain.LevelMiddle}, h.generator.summaryCalls)
	assert.Equal(t, 0, h.generator.quizCalls)

	h.generator.failLevel = ""
	h.generator.summaryCalls = nil
	resumed := h.ingestor.IngestDaily(ctx, runDate)

	require.True(t, resumed.Results[0].Success, resumed.Results[0].Error)
	assert.Equal(t, []domain.ReadingLevel{domain.LevelMiddle, domain.LevelHigh}, h.generator.summaryCalls)
	assert.Equal(t, 1, h.generator.quizCalls)
	assert.Len(t, h.feed.calls, 1, "an assigned paper is never reselected")

	stats := h.store.Stats()
	assert.Equal(t, 1, stats.Papers)
	assert.Equal(t, 1, stats.Assignments)
	assert.Equal(t, 3, stats.Summaries)
	assert.Equal(t, 1, stats.Quizzes)
}

func TestIngestRejectsMalformedQuizInFull(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	bad := sixQuestionQuiz()
	bad.Questions[4].Options = []string{"a", "b", "c"}
	h.generator.quiz = bad

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, "write quiz")
	stats := h.store.Stats()
	assert.Equal(t, 0, stats.Quizzes)
	assert.Equal(t, 3, stats.Summaries)
}

func TestIngestQuizGenerationFailureFailsField(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.generator.quizErr = fmt.Errorf("generate quiz: %w: missing questions array", domain.ErrValidation)

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Error, "missing questions array")
	assert.Equal(t, 0, h.store.Stats().Quizzes)
}

func TestIngestShortTextIsAbstractOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.extractor.doc = domain.ExtractedDocument{Text: "  too short  ", PageCount: 1, CharacterCount: 9, WordCount: 2}

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.True(t, report.Results[0].Success, report.Results[0].Error)
	paper, err := h.store.GetPaper(context.Background(), *report.Results[0].PaperID)
	require.NoError(t, err)
	assert.False(t, paper.HasFullText())
	assert.Equal(t, 0, h.generator.preCalls)
	assert.Equal(t, 0, h.store.Stats().PreReadings)
}

func TestIngestExtractionFailureIsAbstractOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.extractor.err = fmt.Errorf("download document: %w", domain.ErrFetch)

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.True(t, report.Results[0].Success, report.Results[0].Error)
	assert.Equal(t, 0, h.generator.preCalls)
	assert.Equal(t, 3, h.store.Stats().Summaries)
}

func TestIngestPreReadingFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.generator.preErr = fmt.Errorf("generate prereading: %w: unknown difficulty level", domain.ErrValidation)

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.True(t, report.Results[0].Success, report.Results[0].Error)
	assert.Equal(t, 1, h.generator.preCalls)
	assert.Equal(t, 0, h.store.Stats().PreReadings)
	assert.Equal(t, 1, h.store.Stats().Quizzes)
}

func TestIngestFallsBackWhenEveryCandidateWasUsed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for i, id := range []string{"A", "B", "U"} {
		markUsed(t, h.store, mlField, fmt.Sprintf("2023-12-0%d", i+1), id)
	}

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.True(t, report.Results[0].Success, report.Results[0].Error)
	assert.Equal(t, "B", report.Results[0].ExternalID)
	assert.Equal(t, 3, h.store.Stats().Papers)
}

func TestIngestFeedFailureFailsField(t *testing.T) {
	t.Parallel()
	h := newHarness(t, mlField, cvField)
	h.feed.err = fmt.Errorf("%w: connection refused", domain.ErrFetch)

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.FailCount)
	assert.Contains(t, report.Results[0].Error, "fetch candidates")
	assert.Len(t, h.feed.calls, 2)
}

func TestIngestDefaultsDateToUTCToday(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	report := h.ingestor.IngestDaily(context.Background(), "")

	assert.Equal(t, "2024-01-06", report.Date)
	assignment, err := h.store.GetAssignment(context.Background(), mlField.ID, "2024-01-06")
	require.NoError(t, err)
	assert.NotNil(t, assignment)
}

func TestIngestCancelledRunReportsEveryField(t *testing.T) {
	t.Parallel()
	h := newHarness(t, mlField, cvField)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.ingestor.IngestDaily(ctx, runDate)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.FailCount)
	for _, r := range report.Results {
		assert.Contains(t, r.Error, "run cancelled")
	}
	assert.Empty(t, h.feed.calls)
}

func TestIngestPublishesDigest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.notifier.err = errors.New("telegram down")

	report := h.ingestor.IngestDaily(context.Background(), runDate)

	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, h.notifier.digests, 1)
	assert.Contains(t, h.notifier.digests[0], runDate)

	last, ok := h.ingestor.LastReport()
	require.True(t, ok)
	assert.Equal(t, report, last)
}

// unreachableStore fails to load the field catalog.
type unreachableStore struct {
	*storage.MemoryStore
}

func (unreachableStore) ListFields(context.Context) ([]domain.Field, error) {
	return nil, fmt.Errorf("%w: query fields: dial tcp: connection refused", domain.ErrStore)
}

func TestIngestDailyFailsWhenFieldsCannotLoad(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ingestor := h.build(unreachableStore{h.store})

	report := ingestor.IngestDaily(context.Background(), runDate)

	require.True(t, report.Failed())
	assert.Contains(t, report.Error, "connection refused")
	assert.Equal(t, runDate, report.Date)
	assert.Empty(t, report.Results)
	assert.Empty(t, h.feed.calls)

	last, ok := ingestor.LastReport()
	require.True(t, ok)
	assert.Equal(t, report, last)

	require.Len(t, h.notifier.digests, 1)
	assert.Contains(t, h.notifier.digests[0], "RUN FAILED")
}

// racingStore hides existing assignments from the initial lookup, the way a
// concurrent run can create one between check and insert.
type racingStore struct {
	*storage.MemoryStore
}

func (racingStore) GetAssignment(context.Context, uuid.UUID, string) (*domain.DailyAssignment, error) {
	return nil, nil
}

func TestIngestConvergesOnConcurrentAssignment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	winner := markUsed(t, h.store, mlField, runDate, "W")

	ingestor := h.build(racingStore{h.store})
	res := ingestor.IngestField(context.Background(), mlField, runDate)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "W", res.ExternalID)
	assert.Equal(t, winner.ID, *res.PaperID)
	assert.Equal(t, 1, h.store.Stats().Assignments)
}

type panickingFeed struct{}

func (panickingFeed) Fetch(context.Context, string, int) ([]domain.Candidate, error) {
	panic("boom")
}

func TestIngestFieldRecoversPanics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ingestor := NewIngestor(IngestorDeps{Store: h.store, Feed: panickingFeed{}, Generator: h.generator})

	res := ingestor.IngestField(context.Background(), mlField, runDate)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}
