// Package phrases extracts noun phrases from unit text for the interpret
// stage.
package phrases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Extractor turns text into a list of noun phrases.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// New returns an HTTP sidecar client when url is set and the rule-based
// extractor otherwise.
func New(url string) Extractor {
	if url == "" {
		return Rules{}
	}
	return NewClient(url)
}

// Client calls an NLP sidecar exposing POST /noun-phrases
// {"text": ...} -> {"noun_phrases": [...]}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a sidecar client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	NounPhrases []string `json:"noun_phrases"`
}

// Extract calls the sidecar.
func (c *Client) Extract(ctx context.Context, text string) ([]string, error) {
	body, err := json.Marshal(extractRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("phrases: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/noun-phrases", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("phrases: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phrases: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("phrases: status %d: %s", resp.StatusCode, string(msg))
	}
	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("phrases: decode response: %w", err)
	}
	if out.NounPhrases == nil {
		out.NounPhrases = []string{}
	}
	return out.NounPhrases, nil
}

// Rules tags text with an averaged-perceptron part-of-speech model and
// chunks it into noun phrases: runs of adjectives, numbers and nouns that end
// in a noun. Determiners and possessives open a phrase but are not kept.
type Rules struct{}

// Extract implements Extractor.
func (Rules) Extract(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("phrases: tag: %w", err)
	}
	return chunk(doc.Tokens()), nil
}

// chunk groups tagged tokens into noun phrases.
func chunk(tokens []prose.Token) []string {
	out := []string{}
	var run []prose.Token
	flush := func() {
		end := len(run)
		for end > 0 && !isNoun(run[end-1].Tag) {
			end--
		}
		if end > 0 && hasLetter(run[:end]) {
			words := make([]string, end)
			for i, tok := range run[:end] {
				words[i] = tok.Text
			}
			out = append(out, strings.Join(words, " "))
		}
		run = run[:0]
	}

	for _, tok := range tokens {
		switch {
		case isNoun(tok.Tag), isModifier(tok.Tag):
			run = append(run, tok)
		default:
			flush()
		}
	}
	flush()
	return out
}

func isNoun(tag string) bool {
	return strings.HasPrefix(tag, "NN")
}

func isModifier(tag string) bool {
	switch tag {
	case "JJ", "JJR", "JJS", "CD":
		return true
	}
	return false
}

func hasLetter(tokens []prose.Token) bool {
	for _, tok := range tokens {
		if strings.IndexFunc(tok.Text, unicode.IsLetter) >= 0 {
			return true
		}
	}
	return false
}
