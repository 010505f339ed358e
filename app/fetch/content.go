package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability"
	"golang.org/x/text/unicode/norm"
)

// ContentFetcher retrieves a page and reduces it to clean article text.
type ContentFetcher struct {
	client *Client
}

func NewContentFetcher(client *Client) *ContentFetcher {
	return &ContentFetcher{client: client}
}

// FetchContent fetches pageURL and returns the cleaned body: readability
// extraction followed by unicode and whitespace normalization.
func (f *ContentFetcher) FetchContent(ctx context.Context, pageURL string) (string, error) {
	data, err := f.client.Get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty response from %s", pageURL)
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	text := NormalizeText(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no content extracted from %s", pageURL)
	}

	if title := strings.TrimSpace(article.Title); title != "" {
		text = "# " + title + "\n\n" + text
	}

	return text, nil
}

var (
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	trailingWS   = regexp.MustCompile(`[ \t]+\n`)
	interiorRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// NormalizeText canonicalizes extracted text: NFC unicode form, LF line
// endings, collapsed whitespace. Deterministic so the same page always
// yields the same blob.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = interiorRuns.ReplaceAllString(s, " ")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
