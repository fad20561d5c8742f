package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

// Summarize writes one summary of the abstract for the given reading level.
// Empty provider content is a hard failure.
func (c *ChatGPTClient) Summarize(ctx context.Context, title, abstract string, level domain.ReadingLevel) (string, error) {
	prompt, ok := summaryPrompts[level]
	if !ok {
		return "", fmt.Errorf("%w: unknown reading level %q", domain.ErrValidation, level)
	}

	content, err := c.complete(ctx, completionRequest{
		System:      summarySystemPrompt,
		User:        fmt.Sprintf("%s\n\nTitle: %s\nAbstract: %s", prompt, title, abstract),
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", fmt.Errorf("generate %s summary: %w", level, err)
	}

	summary := strings.TrimSpace(content)
	if summary == "" {
		return "", fmt.Errorf("generate %s summary: %w: empty summary", level, domain.ErrValidation)
	}

	c.logger.Debug("generated summary", "level", level, "chars", len(summary))
	return summary, nil
}

type rawQuiz struct {
	Questions *[]rawQuestion `json:"questions"`
}

type rawQuestion struct {
	Question     *string  `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index"`
	Explanation  *string  `json:"explanation"`
}

// Quiz requests a multiple-choice quiz in JSON mode. A single malformed
// question rejects the whole batch.
func (c *ChatGPTClient) Quiz(ctx context.Context, title, abstract string) (domain.Quiz, error) {
	content, err := c.complete(ctx, completionRequest{
		System:      summarySystemPrompt,
		User:        fmt.Sprintf("%s\n\nTitle: %s\nAbstract: %s", quizPrompt, title, abstract),
		JSON:        true,
		Temperature: 0.7,
		MaxTokens:   3000,
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("generate quiz: %w", err)
	}

	quiz, err := decodeQuiz(content)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("generate quiz: %w", err)
	}

	c.logger.Debug("generated quiz", "questions", len(quiz.Questions))
	return quiz, nil
}

func decodeQuiz(content string) (domain.Quiz, error) {
	var raw rawQuiz
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: quiz is not valid json: %v", domain.ErrValidation, err)
	}
	if raw.Questions == nil {
		return domain.Quiz{}, fmt.Errorf("%w: missing questions array", domain.ErrValidation)
	}

	quiz := domain.Quiz{Questions: make([]domain.QuizQuestion, 0, len(*raw.Questions))}
	for i, q := range *raw.Questions {
		if q.Question == nil || q.CorrectIndex == nil || q.Explanation == nil {
			return domain.Quiz{}, fmt.Errorf("%w: question %d is missing required fields", domain.ErrValidation, i)
		}
		quiz.Questions = append(quiz.Questions, domain.QuizQuestion{
			Question:     strings.TrimSpace(*q.Question),
			Options:      q.Options,
			CorrectIndex: *q.CorrectIndex,
			Explanation:  strings.TrimSpace(*q.Explanation),
		})
	}

	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

type rawPreReading struct {
	Jargon                   *[]domain.JargonEntry       `json:"jargon"`
	Prerequisites            *[]domain.PrerequisiteEntry `json:"prerequisites"`
	DifficultyLevel          *string                     `json:"difficulty_level"`
	EstimatedReadTimeMinutes *int                        `json:"estimated_read_time_minutes"`
	KeyConcepts              *[]string                   `json:"key_concepts"`
}

// PreReading builds preparation material from a bounded prefix of the full text.
func (c *ChatGPTClient) PreReading(ctx context.Context, title, abstract, fullText, fieldName string) (domain.PreReading, error) {
	user := fmt.Sprintf("%s\n\nField: %s\nTitle: %s\nAbstract: %s\n\nFull Paper Text (truncated):\n%s",
		prereadingPrompt, fieldName, title, abstract, truncateRunes(fullText, c.prereadingMaxChars))

	content, err := c.complete(ctx, completionRequest{
		System:      prereadingSystemPrompt,
		User:        user,
		JSON:        true,
		Temperature: 0.5,
		MaxTokens:   3000,
	})
	if err != nil {
		return domain.PreReading{}, fmt.Errorf("generate prereading: %w", err)
	}

	pr, err := decodePreReading(content)
	if err != nil {
		return domain.PreReading{}, fmt.Errorf("generate prereading: %w", err)
	}

	c.logger.Debug("generated prereading",
		"jargon", len(pr.Jargon),
		"prerequisites", len(pr.Prerequisites),
		"difficulty", pr.DifficultyLevel,
	)
	return pr, nil
}

func decodePreReading(content string) (domain.PreReading, error) {
	var raw rawPreReading
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return domain.PreReading{}, fmt.Errorf("%w: prereading is not valid json: %v", domain.ErrValidation, err)
	}

	switch {
	case raw.Jargon == nil || len(*raw.Jargon) == 0:
		return domain.PreReading{}, fmt.Errorf("%w: jargon must be a non-empty list", domain.ErrValidation)
	case raw.Prerequisites == nil || len(*raw.Prerequisites) == 0:
		return domain.PreReading{}, fmt.Errorf("%w: prerequisites must be a non-empty list", domain.ErrValidation)
	case raw.KeyConcepts == nil || len(*raw.KeyConcepts) == 0:
		return domain.PreReading{}, fmt.Errorf("%w: key_concepts must be a non-empty list", domain.ErrValidation)
	case raw.DifficultyLevel == nil:
		return domain.PreReading{}, fmt.Errorf("%w: missing difficulty_level", domain.ErrValidation)
	case raw.EstimatedReadTimeMinutes == nil || *raw.EstimatedReadTimeMinutes <= 0:
		return domain.PreReading{}, fmt.Errorf("%w: estimated_read_time_minutes must be a positive integer", domain.ErrValidation)
	}

	difficulty, err := domain.ParseDifficulty(*raw.DifficultyLevel)
	if err != nil {
		return domain.PreReading{}, err
	}

	for i, j := range *raw.Jargon {
		if strings.TrimSpace(j.Term) == "" || strings.TrimSpace(j.Definition) == "" {
			return domain.PreReading{}, fmt.Errorf("%w: jargon entry %d needs term and definition", domain.ErrValidation, i)
		}
	}
	for i, p := range *raw.Prerequisites {
		if strings.TrimSpace(p.Concept) == "" || strings.TrimSpace(p.WhyNeeded) == "" {
			return domain.PreReading{}, fmt.Errorf("%w: prerequisite %d needs concept and why_needed", domain.ErrValidation, i)
		}
	}

	return domain.PreReading{
		Jargon:                   *raw.Jargon,
		Prerequisites:            *raw.Prerequisites,
		DifficultyLevel:          difficulty,
		EstimatedReadTimeMinutes: *raw.EstimatedReadTimeMinutes,
		KeyConcepts:              *raw.KeyConcepts,
	}, nil
}

// truncateRunes keeps at most limit runes of s, marking the cut with an ellipsis.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
