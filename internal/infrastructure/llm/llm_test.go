package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

type capturedRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	ResponseFormat map[string]any   `json:"response_format"`
}

// fakeProvider answers every chat completion with content and records requests.
func fakeProvider(t *testing.T, content string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()

	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req capturedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestClient(endpoint string) *ChatGPTClient {
	return NewChatGPTClient(config.ChatGPTConfig{
		Endpoint:           endpoint,
		Model:              "gpt-test",
		APIKey:             "test-key",
		PrereadingMaxChars: 50,
	}, nil)
}

func validQuizJSON(questions int) string {
	qs := make([]map[string]any, 0, questions)
	for i := 0; i < questions; i++ {
		qs = append(qs, map[string]any{
			"question":      "What is studied?",
			"options":       []string{"a", "b", "c", "d"},
			"correct_index": i % 4,
			"explanation":   "Because.",
		})
	}
	raw, _ := json.Marshal(map[string]any{"questions": qs})
	return string(raw)
}

const validPreReadingJSON = `{
  "jargon": [{"term": "Transformer", "definition": "A neural network architecture."}],
  "prerequisites": [{"concept": "Linear algebra", "why_needed": "Attention is matrix math.", "resources": ["3b1b"]}],
  "difficulty_level": "advanced",
  "estimated_read_time_minutes": 25,
  "key_concepts": ["attention", "sparsity"]
}`

func TestSummarizeUsesLevelPrompt(t *testing.T) {
	t.Parallel()

	server, requests := fakeProvider(t, "  A friendly summary.  ")
	client := newTestClient(server.URL)

	summary, err := client.Summarize(context.Background(), "Title", "Abstract", domain.LevelGrade5)
	require.NoError(t, err)
	assert.Equal(t, "A friendly summary.", summary)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "gpt-test", req.Model)
	assert.Nil(t, req.ResponseFormat)
	user, _ := req.Messages[1]["content"].(string)
	assert.Contains(t, user, "5th-grade")
	assert.Contains(t, user, "Title: Title")
}

func TestSummarizeRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	server, _ := fakeProvider(t, "   ")
	client := newTestClient(server.URL)

	_, err := client.Summarize(context.Background(), "Title", "Abstract", domain.LevelHigh)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSummarizeRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	client := newTestClient("http://unused.invalid")
	_, err := client.Summarize(context.Background(), "Title", "Abstract", domain.ReadingLevel("phd"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuizRequestsJSONMode(t *testing.T) {
	t.Parallel()

	server, requests := fakeProvider(t, validQuizJSON(6))
	client := newTestClient(server.URL)

	quiz, err := client.Quiz(context.Background(), "Title", "Abstract")
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 6)
	assert.Equal(t, "json_object", (*requests)[0].ResponseFormat["type"])
}

func TestDecodeQuizRejectsWholeBatch(t *testing.T) {
	t.Parallel()

	// five valid questions plus one broken one
	withBad := func(bad string) string {
		good := `{"question": "q", "options": ["a","b","c","d"], "correct_index": 0, "explanation": "e"}`
		return `{"questions": [` + strings.Repeat(good+",", 5) + bad + `]}`
	}

	cases := map[string]string{
		"not json":          `here is your quiz`,
		"missing questions": `{"items": []}`,
		"no questions":      `{"questions": []}`,
		"too few":           validQuizJSON(5),
		"too many":          validQuizJSON(9),
		"three options":     withBad(`{"question": "q", "options": ["a","b","c"], "correct_index": 0, "explanation": "e"}`),
		"five options":      withBad(`{"question": "q", "options": ["a","b","c","d","e"], "correct_index": 0, "explanation": "e"}`),
		"index range":       withBad(`{"question": "q", "options": ["a","b","c","d"], "correct_index": 4, "explanation": "e"}`),
		"missing index":     withBad(`{"question": "q", "options": ["a","b","c","d"], "explanation": "e"}`),
		"wrong type":        withBad(`{"question": 7, "options": ["a","b","c","d"], "correct_index": 0, "explanation": "e"}`),
	}
	for name, content := range cases {
		quiz, err := decodeQuiz(content)
		require.ErrorIs(t, err, domain.ErrValidation, name)
		assert.Empty(t, quiz.Questions, name)
	}
}

func TestPreReadingTruncatesFullText(t *testing.T) {
	t.Parallel()

	server, requests := fakeProvider(t, validPreReadingJSON)
	client := newTestClient(server.URL)

	fullText := strings.Repeat("é", 40) + strings.Repeat("z", 100)
	pr, err := client.PreReading(context.Background(), "Title", "Abstract", fullText, "Machine Learning")
	require.NoError(t, err)
	assert.Equal(t, domain.DifficultyAdvanced, pr.DifficultyLevel)
	assert.Equal(t, 25, pr.EstimatedReadTimeMinutes)
	assert.Equal(t, []string{"attention", "sparsity"}, pr.KeyConcepts)

	user, _ := (*requests)[0].Messages[1]["content"].(string)
	assert.Contains(t, user, "Field: Machine Learning")
	assert.Contains(t, user, strings.Repeat("é", 40)+strings.Repeat("z", 10)+"...")
	assert.NotContains(t, user, strings.Repeat("z", 11))
}

func TestDecodePreReadingFailsClosed(t *testing.T) {
	t.Parallel()

	mutate := func(key string, value any) string {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(validPreReadingJSON), &m))
		if value == nil {
			delete(m, key)
		} else {
			m[key] = value
		}
		raw, _ := json.Marshal(m)
		return string(raw)
	}

	cases := map[string]string{
		"unknown difficulty": mutate("difficulty_level", "galaxy-brain"),
		"missing difficulty": mutate("difficulty_level", nil),
		"zero read time":     mutate("estimated_read_time_minutes", 0),
		"fractional time":    mutate("estimated_read_time_minutes", 12.5),
		"empty jargon":       mutate("jargon", []any{}),
		"missing prereqs":    mutate("prerequisites", nil),
		"blank term":         mutate("jargon", []map[string]string{{"term": " ", "definition": "d"}}),
		"empty concepts":     mutate("key_concepts", []string{}),
		"capitalised level":  mutate("difficulty_level", "Expert"),
		"padded level":       mutate("difficulty_level", " expert"),
	}
	for name, content := range cases {
		_, err := decodePreReading(content)
		require.ErrorIs(t, err, domain.ErrValidation, name)
	}

	pr, err := decodePreReading(mutate("difficulty_level", "expert"))
	require.NoError(t, err)
	assert.Equal(t, domain.DifficultyExpert, pr.DifficultyLevel)
}

func TestProviderErrorIsFetchFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Quiz(context.Background(), "t", "a")
	require.ErrorIs(t, err, domain.ErrFetch)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestMisconfiguredClient(t *testing.T) {
	t.Parallel()

	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: "http://x", Model: "m"}, nil)
	_, err := client.Summarize(context.Background(), "t", "a", domain.LevelMiddle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misconfigured")
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "héll...", truncateRunes("héllo", 4))
	assert.Equal(t, "anything", truncateRunes("anything", 0))
	assert.True(t, utf8.ValidString(truncateRunes(strings.Repeat("日本", 10), 3)))
}

func TestVisionUnavailableWithoutKey(t *testing.T) {
	t.Parallel()

	client := NewVisionClient(config.VisionConfig{Endpoint: "http://unused.invalid"}, nil)
	assert.False(t, client.Available())

	_, err := client.ExtractRegion(context.Background(), []byte{0x89}, RegionTable)
	require.ErrorIs(t, err, ErrVisionUnavailable)
}

func pngImage(payload string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), payload...)
}

func imageURL(t *testing.T, req capturedRequest) string {
	t.Helper()
	parts, _ := req.Messages[0]["content"].([]any)
	for _, p := range parts {
		part, _ := p.(map[string]any)
		if part["type"] == "image_url" {
			img, _ := part["image_url"].(map[string]any)
			url, _ := img["url"].(string)
			return url
		}
	}
	t.Fatalf("request has no image part")
	return ""
}

func TestExtractRegionSniffsMediaType(t *testing.T) {
	t.Parallel()

	server, requests := fakeProvider(t, "| a | b |")
	client := NewVisionClient(config.VisionConfig{Endpoint: server.URL, Model: "ocr", APIKey: "test-key"}, nil)
	ctx := context.Background()

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	_, err := client.ExtractRegion(ctx, jpeg, RegionTable)
	require.NoError(t, err)
	_, err = client.ExtractRegion(ctx, pngImage("x"), RegionTable)
	require.NoError(t, err)

	require.Len(t, *requests, 2)
	assert.True(t, strings.HasPrefix(imageURL(t, (*requests)[0]), "data:image/jpeg;base64,"))
	assert.True(t, strings.HasPrefix(imageURL(t, (*requests)[1]), "data:image/png;base64,"))

	_, err = client.ExtractRegion(ctx, []byte("plain text, not a picture"), RegionTable)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, *requests, 2)
}

func TestBatchExtractDegradesPerItem(t *testing.T) {
	t.Parallel()

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}

		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		parts, _ := req.Messages[0]["content"].([]any)
		text := ""
		for _, p := range parts {
			part, _ := p.(map[string]any)
			if part["type"] == "text" {
				text, _ = part["text"].(string)
			}
		}
		if strings.Contains(text, "formulas and equations") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "| a | b |"}}},
		})
	}))
	defer server.Close()

	client := NewVisionClient(config.VisionConfig{
		Endpoint:    server.URL,
		Model:       "ocr",
		APIKey:      "test-key",
		Concurrency: 2,
	}, nil)

	regions := []Region{
		{Image: pngImage("1"), Kind: RegionTable},
		{Image: pngImage("2"), Kind: RegionFormula},
		{Image: pngImage("3"), Kind: RegionFigure},
		{Image: pngImage("4"), Kind: RegionGeneral},
		{Image: pngImage("5"), Kind: RegionTable},
	}
	results := client.BatchExtract(context.Background(), regions)

	require.Len(t, results, 5)
	assert.Equal(t, "| a | b |", results[0])
	assert.Equal(t, "", results[1])
	assert.Equal(t, "| a | b |", results[4])
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}
