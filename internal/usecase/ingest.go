package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/feed"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

// ErrNoCandidates is the field failure reported when the feed returns nothing.
var ErrNoCandidates error = noCandidatesError{}

type noCandidatesError struct{}

func (noCandidatesError) Error() string { return "No papers found on arXiv" }
func (noCandidatesError) Unwrap() error { return domain.ErrNotFound }

// IngestorDeps wires all driven adapters into the ingestion workflow.
type IngestorDeps struct {
	Store     ports.Store
	Feed      ports.FeedSource
	Extractor ports.DocumentExtractor
	Generator ports.ContentGenerator
	// Notifier receives a digest after every daily run. Optional.
	Notifier ports.Notifier
	Logger   *slog.Logger
	Clock    func() time.Time

	FieldPause    time.Duration
	MaxResults    int
	MinTextLength int
}

// Ingestor runs the per-field, per-day paper pipeline. Progress is derived
// from artifact existence in the store, so any run can resume a previous one.
type Ingestor struct {
	store     ports.Store
	feed      ports.FeedSource
	extractor ports.DocumentExtractor
	generator ports.ContentGenerator
	notifier  ports.Notifier
	logger    *slog.Logger
	clock     func() time.Time

	fieldPause    time.Duration
	maxResults    int
	minTextLength int

	mu         sync.Mutex
	lastReport *domain.RunReport
}

// NewIngestor constructs the orchestration component.
func NewIngestor(deps IngestorDeps) *Ingestor {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	maxResults := deps.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	return &Ingestor{
		store:         deps.Store,
		feed:          deps.Feed,
		extractor:     deps.Extractor,
		generator:     deps.Generator,
		notifier:      deps.Notifier,
		logger:        logging.OrDiscard(deps.Logger),
		clock:         clock,
		fieldPause:    deps.FieldPause,
		maxResults:    maxResults,
		minTextLength: deps.MinTextLength,
	}
}

// LastReport returns the most recent daily run, if any.
func (i *Ingestor) LastReport() (domain.RunReport, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastReport == nil {
		return domain.RunReport{}, false
	}
	return *i.lastReport, true
}

// IngestDaily processes every field in catalog order for date (today in UTC
// when empty). Fields run one at a time so they share the feed's rate limit.
// Field failures land in their result entries; only a failure to load the
// field catalog marks the whole report as failed.
func (i *Ingestor) IngestDaily(ctx context.Context, date string) domain.RunReport {
	if date == "" {
		date = i.clock().UTC().Format(domain.DateLayout)
	}
	log := i.logger.With("date", date)

	fields, err := i.store.ListFields(ctx)
	if err != nil {
		log.Error("list fields failed, aborting run", "error", err)
		report := domain.NewRunReport(date, []domain.FieldResult{})
		report.Error = fmt.Sprintf("list fields: %v", err)
		i.finish(ctx, report)
		return report
	}
	log.Info("daily ingestion started", "fields", len(fields))

	results := make([]domain.FieldResult, 0, len(fields))
	for idx, field := range fields {
		if idx > 0 {
			i.pause(ctx)
		}
		if err := ctx.Err(); err != nil {
			log.Warn("daily ingestion cancelled", "remaining", len(fields)-idx, "error", err)
			for _, rest := range fields[idx:] {
				results = append(results, domain.FieldResult{
					FieldSlug: rest.Slug,
					Error:     fmt.Sprintf("run cancelled: %v", err),
				})
			}
			break
		}
		results = append(results, i.IngestField(ctx, field, date))
	}

	report := domain.NewRunReport(date, results)
	log.Info("daily ingestion finished", "succeeded", report.SuccessCount, "failed", report.FailCount)

	i.finish(ctx, report)
	return report
}

func (i *Ingestor) finish(ctx context.Context, report domain.RunReport) {
	i.mu.Lock()
	i.lastReport = &report
	i.mu.Unlock()

	i.publishDigest(ctx, report)
}

func (i *Ingestor) pause(ctx context.Context) {
	if i.fieldPause <= 0 {
		return
	}
	timer := time.NewTimer(i.fieldPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (i *Ingestor) publishDigest(ctx context.Context, report domain.RunReport) {
	if i.notifier == nil {
		return
	}
	if err := i.notifier.PublishDigest(ctx, FormatDigest(report)); err != nil {
		i.logger.Warn("publish run digest failed", "error", err)
	}
}

// IngestField brings one (field, date) pair to completion. Any error is
// captured in the returned result and never escapes to the caller.
func (i *Ingestor) IngestField(ctx context.Context, field domain.Field, date string) (result domain.FieldResult) {
	log := i.logger.With("field", field.Slug, "date", date)
	result = domain.FieldResult{FieldSlug: field.Slug}

	defer func() {
		if r := recover(); r != nil {
			log.Error("field ingestion panicked", "panic", r)
			result = domain.FieldResult{FieldSlug: field.Slug, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	paper, err := i.ingestField(ctx, log, field, date)
	if err != nil {
		log.Error("field ingestion failed", "error", err)
		result.Error = err.Error()
		return result
	}

	id := paper.ID
	result.Success = true
	result.PaperID = &id
	result.ExternalID = paper.ExternalID
	log.Info("field ingestion succeeded", "paper_id", paper.ID, "arxiv_id", paper.ExternalID)
	return result
}

func (i *Ingestor) ingestField(ctx context.Context, log *slog.Logger, field domain.Field, date string) (domain.Paper, error) {
	assignment, err := i.store.GetAssignment(ctx, field.ID, date)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("get assignment: %w", err)
	}

	var paper domain.Paper
	if assignment != nil {
		paper, err = i.store.GetPaper(ctx, assignment.PaperID)
		if err != nil {
			return domain.Paper{}, fmt.Errorf("load assigned paper: %w", err)
		}

		missing, err := i.missingArtifacts(ctx, paper, field)
		if err != nil {
			return domain.Paper{}, err
		}
		if len(missing) == 0 {
			log.Info("already processed", "arxiv_id", paper.ExternalID)
			return paper, nil
		}
		log.Info("resuming assigned paper", "arxiv_id", paper.ExternalID, "missing", missing)

		if slices.Contains(missing, domain.ArtifactPreReading) {
			paper = i.extractFullText(ctx, log, paper)
		}
	} else {
		candidate, err := i.selectCandidate(ctx, log, field)
		if err != nil {
			return domain.Paper{}, err
		}

		paper, err = i.store.UpsertPaper(ctx, domain.PaperInputFromCandidate(candidate))
		if err != nil {
			return domain.Paper{}, fmt.Errorf("upsert paper %s: %w", candidate.ExternalID, err)
		}

		paper = i.extractFullText(ctx, log, paper)

		created, err := i.store.CreateAssignment(ctx, date, field.ID, paper.ID)
		if err != nil {
			return domain.Paper{}, fmt.Errorf("create assignment: %w", err)
		}
		if created.PaperID != paper.ID {
			log.Warn("assignment already taken by another run, continuing with its paper",
				"selected", paper.ExternalID, "assigned_paper_id", created.PaperID)
			paper, err = i.store.GetPaper(ctx, created.PaperID)
			if err != nil {
				return domain.Paper{}, fmt.Errorf("load assigned paper: %w", err)
			}
		}
	}

	if err := i.generateArtifacts(ctx, log, field, paper); err != nil {
		return domain.Paper{}, err
	}
	return paper, nil
}

// missingArtifacts lists the artifact kinds not yet complete for paper.
func (i *Ingestor) missingArtifacts(ctx context.Context, paper domain.Paper, field domain.Field) ([]domain.ArtifactKind, error) {
	var missing []domain.ArtifactKind
	for _, kind := range []domain.ArtifactKind{domain.ArtifactSummary, domain.ArtifactQuiz, domain.ArtifactPreReading} {
		ok, err := i.exists(ctx, kind, paper, field, "")
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

func (i *Ingestor) exists(ctx context.Context, kind domain.ArtifactKind, paper domain.Paper, field domain.Field, level domain.ReadingLevel) (bool, error) {
	ok, err := i.store.ArtifactExists(ctx, domain.ArtifactKey{Kind: kind, PaperID: paper.ID, FieldID: field.ID, Level: level})
	if err != nil {
		return false, fmt.Errorf("check %s: %w", kind, err)
	}
	return ok, nil
}

func (i *Ingestor) selectCandidate(ctx context.Context, log *slog.Logger, field domain.Field) (domain.Candidate, error) {
	candidates, err := i.feed.Fetch(ctx, field.ArxivQuery, i.maxResults)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("fetch candidates: %w", err)
	}
	if len(candidates) == 0 {
		return domain.Candidate{}, ErrNoCandidates
	}

	used, err := i.store.GetUsedExternalIDs(ctx, field.ID)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("load used ids: %w", err)
	}

	pool := feed.FilterUnused(candidates, used)
	if len(pool) == 0 {
		log.Warn("every candidate was already used, falling back to the unfiltered feed", "candidates", len(candidates))
		pool = candidates
	}

	selected, ok := feed.SelectNewest(pool)
	if !ok {
		return domain.Candidate{}, ErrNoCandidates
	}
	log.Info("selected paper", "arxiv_id", selected.ExternalID, "candidates", len(candidates), "unused", len(pool))
	return selected, nil
}

// extractFullText attempts the document download. Failures leave the paper
// in abstract-only mode and are never returned.
func (i *Ingestor) extractFullText(ctx context.Context, log *slog.Logger, paper domain.Paper) domain.Paper {
	if paper.HasFullText() {
		return paper
	}
	if i.extractor == nil || paper.PDFURL == "" {
		log.Info("no document to extract, continuing abstract-only", "arxiv_id", paper.ExternalID)
		return paper
	}

	doc, err := i.extractor.Extract(ctx, paper.PDFURL)
	if err != nil {
		log.Warn("document extraction failed, continuing abstract-only", "arxiv_id", paper.ExternalID, "error", err)
		return paper
	}
	if !doc.Usable(i.minTextLength) {
		log.Warn("extracted text too short, continuing abstract-only",
			"arxiv_id", paper.ExternalID, "chars", doc.CharacterCount, "min", i.minTextLength)
		return paper
	}

	if err := i.store.SetFullText(ctx, paper.ID, doc.Text); err != nil {
		log.Warn("persist full text failed, continuing abstract-only", "arxiv_id", paper.ExternalID, "error", err)
		return paper
	}

	log.Info("extracted full text", "arxiv_id", paper.ExternalID, "pages", doc.PageCount, "words", doc.WordCount)
	paper.FullText = doc.Text
	return paper
}

func (i *Ingestor) generateArtifacts(ctx context.Context, log *slog.Logger, field domain.Field, paper domain.Paper) error {
	i.generatePreReading(ctx, log, field, paper)

	complete, err := i.exists(ctx, domain.ArtifactSummary, paper, field, "")
	if err != nil {
		return err
	}
	if !complete {
		for _, level := range domain.ReadingLevels {
			done, err := i.exists(ctx, domain.ArtifactSummary, paper, field, level)
			if err != nil {
				return err
			}
			if done {
				continue
			}
			text, err := i.generator.Summarize(ctx, paper.Title, paper.Abstract, level)
			if err != nil {
				return err
			}
			if err := i.store.WriteSummary(ctx, paper.ID, field.ID, level, text); err != nil {
				return fmt.Errorf("write %s summary: %w", level, err)
			}
			log.Info("summary stored", "level", level)
		}
	}

	hasQuiz, err := i.exists(ctx, domain.ArtifactQuiz, paper, field, "")
	if err != nil {
		return err
	}
	if !hasQuiz {
		quiz, err := i.generator.Quiz(ctx, paper.Title, paper.Abstract)
		if err != nil {
			return err
		}
		if err := i.store.WriteQuiz(ctx, paper.ID, field.ID, quiz); err != nil {
			return fmt.Errorf("write quiz: %w", err)
		}
		log.Info("quiz stored", "questions", len(quiz.Questions))
	}

	return nil
}

// generatePreReading is best-effort: it needs full text and its failures
// only get logged.
func (i *Ingestor) generatePreReading(ctx context.Context, log *slog.Logger, field domain.Field, paper domain.Paper) {
	if !paper.HasFullText() {
		return
	}

	done, err := i.exists(ctx, domain.ArtifactPreReading, paper, field, "")
	if err != nil {
		log.Warn("prereading check failed, skipping", "error", err)
		return
	}
	if done {
		return
	}

	pr, err := i.generator.PreReading(ctx, paper.Title, paper.Abstract, paper.FullText, field.Name)
	if err != nil {
		log.Warn("prereading generation failed, skipping", "error", err)
		return
	}
	if err := i.store.WritePreReading(ctx, paper.ID, field.ID, pr); err != nil {
		log.Warn("prereading write failed, skipping", "error", err)
		return
	}
	log.Info("prereading stored", "difficulty", pr.DifficultyLevel)
}
