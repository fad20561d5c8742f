package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

// FeedSource pulls candidate papers for a query, newest first.
type FeedSource interface {
	Fetch(ctx context.Context, query string, limit int) ([]domain.Candidate, error)
}

// DocumentExtractor downloads a document and derives its text.
type DocumentExtractor interface {
	Extract(ctx context.Context, url string) (domain.ExtractedDocument, error)
}

// ContentGenerator produces the three generated artifact kinds.
type ContentGenerator interface {
	Summarize(ctx context.Context, title, abstract string, level domain.ReadingLevel) (string, error)
	Quiz(ctx context.Context, title, abstract string) (domain.Quiz, error)
	PreReading(ctx context.Context, title, abstract, fullText, fieldName string) (domain.PreReading, error)
}

// Store is the durable idempotency store. Every write is an upsert on its
// natural composite key, and ArtifactExists observes committed writes.
// Artifact existence is the only pipeline state; there is no status column.
type Store interface {
	Ping(ctx context.Context) error
	ListFields(ctx context.Context) ([]domain.Field, error)

	// GetAssignment returns (nil, nil) when no assignment exists.
	GetAssignment(ctx context.Context, fieldID uuid.UUID, date string) (*domain.DailyAssignment, error)
	CreateAssignment(ctx context.Context, date string, fieldID, paperID uuid.UUID) (domain.DailyAssignment, error)
	GetUsedExternalIDs(ctx context.Context, fieldID uuid.UUID) ([]string, error)

	UpsertPaper(ctx context.Context, in domain.PaperInput) (domain.Paper, error)
	GetPaper(ctx context.Context, paperID uuid.UUID) (domain.Paper, error)
	SetFullText(ctx context.Context, paperID uuid.UUID, text string) error

	ArtifactExists(ctx context.Context, key domain.ArtifactKey) (bool, error)
	WriteSummary(ctx context.Context, paperID, fieldID uuid.UUID, level domain.ReadingLevel, text string) error
	WriteQuiz(ctx context.Context, paperID, fieldID uuid.UUID, quiz domain.Quiz) error
	WritePreReading(ctx context.Context, paperID, fieldID uuid.UUID, pr domain.PreReading) error
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when ingestion runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
