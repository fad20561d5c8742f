package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ReadingLevel selects the audience of a summary.
type ReadingLevel string

const (
	LevelGrade5 ReadingLevel = "grade5"
	LevelMiddle ReadingLevel = "middle"
	LevelHigh   ReadingLevel = "high"
)

// ReadingLevels lists every level a complete summary set must contain, in generation order.
var ReadingLevels = []ReadingLevel{LevelGrade5, LevelMiddle, LevelHigh}

// Valid reports whether the level is one of ReadingLevels.
func (l ReadingLevel) Valid() bool {
	for _, lvl := range ReadingLevels {
		if lvl == l {
			return true
		}
	}
	return false
}

// QuizOptionCount is the exact number of options every question carries.
const QuizOptionCount = 4

// Quiz size bounds, inclusive.
const (
	QuizMinQuestions = 6
	QuizMaxQuestions = 8
)

// QuizQuestion is a single multiple-choice question with one correct option.
type QuizQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

// Quiz is the persisted quiz artifact.
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// Validate enforces the structural quiz invariants on the whole batch.
func (q Quiz) Validate() error {
	if n := len(q.Questions); n < QuizMinQuestions || n > QuizMaxQuestions {
		return fmt.Errorf("%w: quiz has %d questions, want %d to %d", ErrValidation, n, QuizMinQuestions, QuizMaxQuestions)
	}
	for i, question := range q.Questions {
		if question.Question == "" {
			return fmt.Errorf("%w: question %d has empty text", ErrValidation, i)
		}
		if len(question.Options) != QuizOptionCount {
			return fmt.Errorf("%w: question %d must have exactly %d options, got %d", ErrValidation, i, QuizOptionCount, len(question.Options))
		}
		if question.CorrectIndex < 0 || question.CorrectIndex >= QuizOptionCount {
			return fmt.Errorf("%w: question %d correct_index %d out of range", ErrValidation, i, question.CorrectIndex)
		}
	}
	return nil
}

// DifficultyLevel grades how demanding a paper is for a general scientific audience.
type DifficultyLevel string

const (
	DifficultyBeginner     DifficultyLevel = "beginner"
	DifficultyIntermediate DifficultyLevel = "intermediate"
	DifficultyAdvanced     DifficultyLevel = "advanced"
	DifficultyExpert       DifficultyLevel = "expert"
)

// ParseDifficulty fails closed on anything outside the enumerated set.
func ParseDifficulty(raw string) (DifficultyLevel, error) {
	switch lvl := DifficultyLevel(raw); lvl {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyExpert:
		return lvl, nil
	default:
		return "", fmt.Errorf("%w: unknown difficulty level %q", ErrValidation, raw)
	}
}

// JargonEntry is a technical term with an accessible definition.
type JargonEntry struct {
	Term         string `json:"term"`
	Definition   string `json:"definition"`
	ExampleUsage string `json:"example_usage,omitempty"`
}

// PrerequisiteEntry is a concept readers should know beforehand.
type PrerequisiteEntry struct {
	Concept   string   `json:"concept"`
	WhyNeeded string   `json:"why_needed"`
	Resources []string `json:"resources,omitempty"`
}

// PreReading is the optional preparation material generated from full text.
type PreReading struct {
	Jargon                   []JargonEntry       `json:"jargon"`
	Prerequisites            []PrerequisiteEntry `json:"prerequisites"`
	DifficultyLevel          DifficultyLevel     `json:"difficulty_level"`
	EstimatedReadTimeMinutes int                 `json:"estimated_read_time_minutes"`
	KeyConcepts              []string            `json:"key_concepts"`
}

// ArtifactKind names one independently gated unit of generated content.
type ArtifactKind string

const (
	ArtifactSummary    ArtifactKind = "summary"
	ArtifactQuiz       ArtifactKind = "quiz"
	ArtifactPreReading ArtifactKind = "prereading"
)

// ArtifactKey addresses an artifact. For ArtifactSummary an empty Level means
// the complete set (all ReadingLevels); otherwise that single level.
type ArtifactKey struct {
	Kind    ArtifactKind
	PaperID uuid.UUID
	FieldID uuid.UUID
	Level   ReadingLevel
}
