package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const paperColumns = "id, arxiv_id, title, abstract, COALESCE(full_text, ''), authors, categories, pdf_url, published_at, created_at"

const assignmentColumns = "id, to_char(date, 'YYYY-MM-DD'), field_id, paper_id, created_at"

// PostgresStore persists papers, assignments and artifacts into Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ ports.Store = (*PostgresStore)(nil)

// OpenPostgres opens a lib/pq pool and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: apply schema: %w", domain.ErrStore, err)
	}
	return nil
}

// SeedFields upserts the catalog by slug; existing ids are kept.
func (r *PostgresStore) SeedFields(ctx context.Context, fields []domain.Field) error {
	if len(fields) == 0 {
		return nil
	}
	query, args, err := seedFieldsQuery(fields).ToSql()
	if err != nil {
		return fmt.Errorf("build seed fields: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: seed fields: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresStore) ListFields(ctx context.Context) ([]domain.Field, error) {
	query, args, err := psql.Select("id", "slug", "name", "arxiv_query").
		From("fields").
		OrderBy("created_at", "slug").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list fields: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query fields: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var f domain.Field
		if err := rows.Scan(&f.ID, &f.Slug, &f.Name, &f.ArxivQuery); err != nil {
			return nil, fmt.Errorf("%w: scan field: %w", domain.ErrStore, err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %w", domain.ErrStore, err)
	}
	return fields, nil
}

func (r *PostgresStore) GetAssignment(ctx context.Context, fieldID uuid.UUID, date string) (*domain.DailyAssignment, error) {
	query, args, err := getAssignmentQuery(fieldID, date).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get assignment: %w", err)
	}

	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get assignment: %w", domain.ErrStore, err)
	}
	return &a, nil
}

// CreateAssignment returns the row that owns (field, date) after the insert,
// which is the pre-existing one when another run got there first.
func (r *PostgresStore) CreateAssignment(ctx context.Context, date string, fieldID, paperID uuid.UUID) (domain.DailyAssignment, error) {
	query, args, err := createAssignmentQuery(date, fieldID, paperID).ToSql()
	if err != nil {
		return domain.DailyAssignment{}, fmt.Errorf("build create assignment: %w", err)
	}

	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.DailyAssignment{}, fmt.Errorf("%w: create assignment: %w", domain.ErrStore, err)
	}
	return a, nil
}

func (r *PostgresStore) GetUsedExternalIDs(ctx context.Context, fieldID uuid.UUID) ([]string, error) {
	query, args, err := usedExternalIDsQuery(fieldID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build used ids: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query used ids: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %w", domain.ErrStore, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %w", domain.ErrStore, err)
	}
	return ids, nil
}

func (r *PostgresStore) UpsertPaper(ctx context.Context, in domain.PaperInput) (domain.Paper, error) {
	query, args, err := upsertPaperQuery(in).ToSql()
	if err != nil {
		return domain.Paper{}, fmt.Errorf("build upsert paper: %w", err)
	}

	p, err := scanPaper(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Paper{}, fmt.Errorf("%w: upsert paper %s: %w", domain.ErrStore, in.ExternalID, err)
	}
	return p, nil
}

func (r *PostgresStore) GetPaper(ctx context.Context, paperID uuid.UUID) (domain.Paper, error) {
	query, args, err := psql.Select(paperColumns).From("papers").Where(sq.Eq{"id": paperID.String()}).ToSql()
	if err != nil {
		return domain.Paper{}, fmt.Errorf("build get paper: %w", err)
	}

	p, err := scanPaper(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Paper{}, fmt.Errorf("get paper %s: %w", paperID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Paper{}, fmt.Errorf("%w: get paper %s: %w", domain.ErrStore, paperID, err)
	}
	return p, nil
}

func (r *PostgresStore) SetFullText(ctx context.Context, paperID uuid.UUID, text string) error {
	query, args, err := psql.Update("papers").
		Set("full_text", text).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": paperID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set full text: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: set full text %s: %w", domain.ErrStore, paperID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set full text %s: %w", paperID, domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresStore) ArtifactExists(ctx context.Context, key domain.ArtifactKey) (bool, error) {
	builder, want, err := artifactCountQuery(key)
	if err != nil {
		return false, err
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build artifact exists: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: check %s: %w", domain.ErrStore, key.Kind, err)
	}
	return count >= want, nil
}

func (r *PostgresStore) WriteSummary(ctx context.Context, paperID, fieldID uuid.UUID, level domain.ReadingLevel, text string) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown reading level %q", domain.ErrValidation, level)
	}
	query, args, err := psql.Insert("paper_summaries").
		Columns("paper_id", "field_id", "level", "summary").
		Values(paperID, fieldID, string(level), text).
		Suffix("ON CONFLICT (paper_id, field_id, level) DO UPDATE SET summary = EXCLUDED.summary").
		ToSql()
	if err != nil {
		return fmt.Errorf("build write summary: %w", err)
	}
	return r.exec(ctx, "write summary", query, args)
}

func (r *PostgresStore) WriteQuiz(ctx context.Context, paperID, fieldID uuid.UUID, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	query, args, err := psql.Insert("paper_quizzes").
		Columns("paper_id", "field_id", "questions").
		Values(paperID, fieldID, string(questions)).
		Suffix("ON CONFLICT (paper_id, field_id) DO UPDATE SET questions = EXCLUDED.questions").
		ToSql()
	if err != nil {
		return fmt.Errorf("build write quiz: %w", err)
	}
	return r.exec(ctx, "write quiz", query, args)
}

func (r *PostgresStore) WritePreReading(ctx context.Context, paperID, fieldID uuid.UUID, pr domain.PreReading) error {
	query, args, err := writePreReadingQuery(paperID, fieldID, pr)
	if err != nil {
		return err
	}
	return r.exec(ctx, "write prereading", query, args)
}

func (r *PostgresStore) exec(ctx context.Context, op, query string, args []any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrStore, op, err)
	}
	return nil
}

func seedFieldsQuery(fields []domain.Field) sq.InsertBuilder {
	b := psql.Insert("fields").Columns("id", "slug", "name", "arxiv_query")
	for _, f := range fields {
		b = b.Values(f.ID, f.Slug, f.Name, f.ArxivQuery)
	}
	return b.Suffix("ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, arxiv_query = EXCLUDED.arxiv_query")
}

func getAssignmentQuery(fieldID uuid.UUID, date string) sq.SelectBuilder {
	return psql.Select(assignmentColumns).
		From("daily_papers").
		Where(sq.Eq{"field_id": fieldID.String(), "date": date})
}

// The no-op DO UPDATE makes RETURNING yield the conflicting row.
func createAssignmentQuery(date string, fieldID, paperID uuid.UUID) sq.InsertBuilder {
	return psql.Insert("daily_papers").
		Columns("date", "field_id", "paper_id").
		Values(date, fieldID, paperID).
		Suffix("ON CONFLICT (field_id, date) DO UPDATE SET field_id = EXCLUDED.field_id RETURNING " + assignmentColumns)
}

func usedExternalIDsQuery(fieldID uuid.UUID) sq.SelectBuilder {
	return psql.Select("DISTINCT p.arxiv_id").
		From("daily_papers d").
		Join("papers p ON p.id = d.paper_id").
		Where(sq.Eq{"d.field_id": fieldID.String()}).
		OrderBy("p.arxiv_id")
}

// Full text is left out of the conflict update so re-ingestion keeps it.
func upsertPaperQuery(in domain.PaperInput) sq.InsertBuilder {
	return psql.Insert("papers").
		Columns("arxiv_id", "title", "abstract", "authors", "categories", "pdf_url", "published_at").
		Values(in.ExternalID, in.Title, in.Abstract,
			pq.Array(nonNil(in.Authors)), pq.Array(nonNil(in.Categories)),
			in.PDFURL, in.PublishedAt.UTC()).
		Suffix(`ON CONFLICT (arxiv_id) DO UPDATE SET
  title = EXCLUDED.title,
  abstract = EXCLUDED.abstract,
  authors = EXCLUDED.authors,
  categories = EXCLUDED.categories,
  pdf_url = EXCLUDED.pdf_url,
  published_at = EXCLUDED.published_at,
  updated_at = NOW()
RETURNING ` + paperColumns)
}

// artifactCountQuery returns a COUNT query and the count that means "exists".
func artifactCountQuery(key domain.ArtifactKey) (sq.SelectBuilder, int, error) {
	where := sq.Eq{"paper_id": key.PaperID.String(), "field_id": key.FieldID.String()}
	switch key.Kind {
	case domain.ArtifactSummary:
		if key.Level != "" {
			where["level"] = string(key.Level)
			return psql.Select("COUNT(*)").From("paper_summaries").Where(where), 1, nil
		}
		levels := make([]string, 0, len(domain.ReadingLevels))
		for _, lvl := range domain.ReadingLevels {
			levels = append(levels, string(lvl))
		}
		where["level"] = levels
		return psql.Select("COUNT(DISTINCT level)").From("paper_summaries").Where(where), len(levels), nil
	case domain.ArtifactQuiz:
		return psql.Select("COUNT(*)").From("paper_quizzes").Where(where), 1, nil
	case domain.ArtifactPreReading:
		return psql.Select("COUNT(*)").From("paper_prereading").Where(where), 1, nil
	default:
		return sq.SelectBuilder{}, 0, fmt.Errorf("%w: unknown artifact kind %q", domain.ErrValidation, key.Kind)
	}
}

func writePreReadingQuery(paperID, fieldID uuid.UUID, pr domain.PreReading) (string, []any, error) {
	jargon, err := json.Marshal(pr.Jargon)
	if err != nil {
		return "", nil, fmt.Errorf("marshal jargon: %w", err)
	}
	prerequisites, err := json.Marshal(pr.Prerequisites)
	if err != nil {
		return "", nil, fmt.Errorf("marshal prerequisites: %w", err)
	}

	query, args, err := psql.Insert("paper_prereading").
		Columns("paper_id", "field_id", "jargon", "prerequisites", "difficulty_level", "estimated_read_time_minutes", "key_concepts").
		Values(paperID, fieldID, string(jargon), string(prerequisites),
			string(pr.DifficultyLevel), pr.EstimatedReadTimeMinutes, pq.Array(nonNil(pr.KeyConcepts))).
		Suffix(`ON CONFLICT (paper_id, field_id) DO UPDATE SET
  jargon = EXCLUDED.jargon,
  prerequisites = EXCLUDED.prerequisites,
  difficulty_level = EXCLUDED.difficulty_level,
  estimated_read_time_minutes = EXCLUDED.estimated_read_time_minutes,
  key_concepts = EXCLUDED.key_concepts`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build write prereading: %w", err)
	}
	return query, args, nil
}

func scanAssignment(row *sql.Row) (domain.DailyAssignment, error) {
	var a domain.DailyAssignment
	err := row.Scan(&a.ID, &a.Date, &a.FieldID, &a.PaperID, &a.CreatedAt)
	return a, err
}

func scanPaper(row *sql.Row) (domain.Paper, error) {
	var p domain.Paper
	err := row.Scan(&p.ID, &p.ExternalID, &p.Title, &p.Abstract, &p.FullText,
		pq.Array(&p.Authors), pq.Array(&p.Categories), &p.PDFURL, &p.PublishedAt, &p.CreatedAt)
	return p, err
}

// pq encodes a nil slice as NULL; the array columns are NOT NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
