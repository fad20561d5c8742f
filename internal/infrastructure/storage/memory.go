package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

type assignmentKey struct {
	fieldID uuid.UUID
	date    string
}

type artifactKey struct {
	paperID uuid.UUID
	fieldID uuid.UUID
}

type summaryKey struct {
	artifactKey
	level domain.ReadingLevel
}

// MemoryStore is a process-local Store for single-instance runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	fields      []domain.Field
	papers      map[uuid.UUID]domain.Paper
	byExternal  map[string]uuid.UUID
	assignments map[assignmentKey]domain.DailyAssignment
	summaries   map[summaryKey]string
	quizzes     map[artifactKey]domain.Quiz
	prereading  map[artifactKey]domain.PreReading

	writes int
	now    func() time.Time
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore seeds the field catalog.
func NewMemoryStore(fields []domain.Field) *MemoryStore {
	return &MemoryStore{
		fields:      slices.Clone(fields),
		papers:      make(map[uuid.UUID]domain.Paper),
		byExternal:  make(map[string]uuid.UUID),
		assignments: make(map[assignmentKey]domain.DailyAssignment),
		summaries:   make(map[summaryKey]string),
		quizzes:     make(map[artifactKey]domain.Quiz),
		prereading:  make(map[artifactKey]domain.PreReading),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// MemoryStats is a point-in-time count of stored rows.
type MemoryStats struct {
	Papers      int
	Assignments int
	Summaries   int
	Quizzes     int
	PreReadings int
	// Writes counts every mutating call that changed state.
	Writes int
}

// Stats reports row counts.
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MemoryStats{
		Papers:      len(s.papers),
		Assignments: len(s.assignments),
		Summaries:   len(s.summaries),
		Quizzes:     len(s.quizzes),
		PreReadings: len(s.prereading),
		Writes:      s.writes,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) ListFields(context.Context) ([]domain.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fields), nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, fieldID uuid.UUID, date string) (*domain.DailyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey{fieldID, date}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// CreateAssignment keeps an existing (field, date) row untouched and returns it.
func (s *MemoryStore) CreateAssignment(_ context.Context, date string, fieldID, paperID uuid.UUID) (domain.DailyAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey{fieldID, date}
	if existing, ok := s.assignments[key]; ok {
		return existing, nil
	}
	if _, ok := s.papers[paperID]; !ok {
		return domain.DailyAssignment{}, fmt.Errorf("%w: create assignment: paper %s: %w", domain.ErrStore, paperID, domain.ErrNotFound)
	}

	a := domain.DailyAssignment{
		ID:        uuid.New(),
		Date:      date,
		FieldID:   fieldID,
		PaperID:   paperID,
		CreatedAt: s.now(),
	}
	s.assignments[key] = a
	s.writes++
	return a, nil
}

func (s *MemoryStore) GetUsedExternalIDs(_ context.Context, fieldID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for key, a := range s.assignments {
		if key.fieldID != fieldID {
			continue
		}
		if p, ok := s.papers[a.PaperID]; ok {
			ids = append(ids, p.ExternalID)
		}
	}
	sort.Strings(ids)
	return slices.Compact(ids), nil
}

// UpsertPaper merges metadata by external id, preserving id and full text.
func (s *MemoryStore) UpsertPaper(_ context.Context, in domain.PaperInput) (domain.Paper, error) {
	if in.ExternalID == "" {
		return domain.Paper{}, fmt.Errorf("%w: upsert paper: empty external id", domain.ErrStore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := domain.Paper{ID: uuid.New(), CreatedAt: s.now()}
	if id, ok := s.byExternal[in.ExternalID]; ok {
		p = s.papers[id]
	}
	p.ExternalID = in.ExternalID
	p.Title = in.Title
	p.Abstract = in.Abstract
	p.Authors = slices.Clone(in.Authors)
	p.Categories = slices.Clone(in.Categories)
	p.PDFURL = in.PDFURL
	p.PublishedAt = in.PublishedAt

	s.papers[p.ID] = p
	s.byExternal[p.ExternalID] = p.ID
	s.writes++
	return p, nil
}

func (s *MemoryStore) GetPaper(_ context.Context, paperID uuid.UUID) (domain.Paper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.papers[paperID]
	if !ok {
		return domain.Paper{}, fmt.Errorf("get paper %s: %w", paperID, domain.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) SetFullText(_ context.Context, paperID uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.papers[paperID]
	if !ok {
		return fmt.Errorf("set full text %s: %w", paperID, domain.ErrNotFound)
	}
	p.FullText = text
	s.papers[paperID] = p
	s.writes++
	return nil
}

func (s *MemoryStore) ArtifactExists(_ context.Context, key domain.ArtifactKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ak := artifactKey{key.PaperID, key.FieldID}
	switch key.Kind {
	case domain.ArtifactSummary:
		if key.Level != "" {
			_, ok := s.summaries[summaryKey{ak, key.Level}]
			return ok, nil
		}
		for _, lvl := range domain.ReadingLevels {
			if _, ok := s.summaries[summaryKey{ak, lvl}]; !ok {
				return false, nil
			}
		}
		return true, nil
	case domain.ArtifactQuiz:
		_, ok := s.quizzes[ak]
		return ok, nil
	case domain.ArtifactPreReading:
		_, ok := s.prereading[ak]
		return ok, nil
	default:
		return false, fmt.Errorf("%w: unknown artifact kind %q", domain.ErrValidation, key.Kind)
	}
}

func (s *MemoryStore) WriteSummary(_ context.Context, paperID, fieldID uuid.UUID, level domain.ReadingLevel, text string) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown reading level %q", domain.ErrValidation, level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summaryKey{artifactKey{paperID, fieldID}, level}] = text
	s.writes++
	return nil
}

func (s *MemoryStore) WriteQuiz(_ context.Context, paperID, fieldID uuid.UUID, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[artifactKey{paperID, fieldID}] = domain.Quiz{Questions: slices.Clone(quiz.Questions)}
	s.writes++
	return nil
}

func (s *MemoryStore) WritePreReading(_ context.Context, paperID, fieldID uuid.UUID, pr domain.PreReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prereading[artifactKey{paperID, fieldID}] = pr
	s.writes++
	return nil
}
