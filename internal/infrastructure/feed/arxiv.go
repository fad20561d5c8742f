package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/httpx"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

const (
	arxivPDFBaseURL = "https://arxiv.org/pdf/"
	defaultLimit    = 50
)

var (
	absPrefixExpr     = regexp.MustCompile(`^.*/abs/`)
	versionSuffixExpr = regexp.MustCompile(`v\d+$`)
)

// ArxivClient queries the arXiv Atom API. All calls share the fetcher's
// cooldown gate, so concurrent callers still respect one rate budget.
type ArxivClient struct {
	baseURL string
	fetcher *httpx.Fetcher
	logger  *slog.Logger
}

var _ ports.FeedSource = (*ArxivClient)(nil)

// NewArxivClient wires the API base URL with a rate-limited fetcher.
func NewArxivClient(baseURL string, fetcher *httpx.Fetcher, log *slog.Logger) *ArxivClient {
	return &ArxivClient{
		baseURL: baseURL,
		fetcher: fetcher,
		logger:  logging.OrDiscard(log),
	}
}

// Fetch returns up to limit candidates for query, newest submissions first.
func (a *ArxivClient) Fetch(ctx context.Context, query string, limit int) ([]domain.Candidate, error) {
	if a.fetcher == nil {
		return nil, errors.New("arxiv client has no fetcher")
	}

	queryURL, err := buildQueryURL(a.baseURL, query, limit)
	if err != nil {
		return nil, err
	}

	a.logger.Info("fetching papers from arxiv", "query", query, "limit", limit)
	body, err := a.fetcher.Get(ctx, queryURL)
	if err != nil {
		return nil, fmt.Errorf("fetch arxiv feed: %w", err)
	}

	candidates, err := parseFeed(body, a.logger)
	if err != nil {
		return nil, err
	}

	a.logger.Info("fetched papers from arxiv", "query", query, "count", len(candidates))
	return candidates, nil
}

func buildQueryURL(base, query string, limit int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid arxiv base url %s: %w", base, err)
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	params := parsed.Query()
	params.Set("search_query", query)
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("max_results", strconv.Itoa(limit))
	parsed.RawQuery = params.Encode()
	return parsed.String(), nil
}

// parseFeed fails only when the envelope is unusable; broken entries are skipped.
func parseFeed(body []byte, log *slog.Logger) ([]domain.Candidate, error) {
	log = logging.OrDiscard(log)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: read atom feed: %v", domain.ErrParse, err)
	}

	feed := doc.Find("feed").First()
	if feed.Length() == 0 {
		return nil, fmt.Errorf("%w: response is not an atom feed", domain.ErrParse)
	}

	candidates := make([]domain.Candidate, 0)
	feed.Find("entry").Each(func(i int, entry *goquery.Selection) {
		candidate, err := parseEntry(entry)
		if err != nil {
			log.Warn("skipping malformed feed entry", "index", i, "error", err)
			return
		}
		candidates = append(candidates, candidate)
	})

	return candidates, nil
}

func parseEntry(entry *goquery.Selection) (domain.Candidate, error) {
	var candidate domain.Candidate

	id := normalizeID(entry.Find("id").First().Text())
	if id == "" {
		return candidate, errors.New("entry has no id")
	}

	publishedText := strings.TrimSpace(entry.Find("published").First().Text())
	publishedAt, err := time.Parse(time.RFC3339, publishedText)
	if err != nil {
		return candidate, fmt.Errorf("entry %s: invalid published date %q", id, publishedText)
	}

	title := normalizeSpace(entry.Find("title").First().Text())
	if title == "" {
		title = "Untitled"
	}

	var authors []string
	entry.Find("author").Each(func(_ int, author *goquery.Selection) {
		if name := normalizeSpace(author.Find("name").First().Text()); name != "" {
			authors = append(authors, name)
		}
	})

	var categories []string
	entry.Find("category").Each(func(_ int, category *goquery.Selection) {
		if term, ok := category.Attr("term"); ok && strings.TrimSpace(term) != "" {
			categories = append(categories, strings.TrimSpace(term))
		}
	})

	candidate = domain.Candidate{
		ExternalID:  id,
		Title:       title,
		Abstract:    normalizeSpace(entry.Find("summary").First().Text()),
		Authors:     authors,
		Categories:  categories,
		PublishedAt: publishedAt.UTC(),
		PDFURL:      pdfURL(entry, id),
	}
	return candidate, nil
}

func pdfURL(entry *goquery.Selection, id string) string {
	href := ""
	entry.Find("link").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		if title, _ := link.Attr("title"); title == "pdf" {
			href, _ = link.Attr("href")
			return false
		}
		return true
	})
	href = strings.TrimSpace(href)
	if href == "" {
		return arxivPDFBaseURL + id + ".pdf"
	}
	return href
}

// normalizeID collapses revisions of one document to a single identifier:
// "http://arxiv.org/abs/2401.01234v2" becomes "2401.01234".
func normalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	id = absPrefixExpr.ReplaceAllString(id, "")
	id = versionSuffixExpr.ReplaceAllString(id, "")
	return id
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
