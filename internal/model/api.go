package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Input limits for the directly invoked entry points.
const (
	MaxEmbeddingLen    = 8192
	MaxInterpretText   = 64 * 1024 // 64 KB
	MaxWellIDLen       = 128
	MaxSearchQueryLen  = 4096
	DefaultSearchLimit = 5
	MaxSearchLimit     = 100
)

// ValidateWellID checks the partition key used in routes and events.
func ValidateWellID(wellID string) error {
	if strings.TrimSpace(wellID) == "" {
		return errors.New("well_id is required")
	}
	if len(wellID) > MaxWellIDLen {
		return fmt.Errorf("well_id exceeds maximum length of %d characters", MaxWellIDLen)
	}
	if strings.ContainsAny(wellID, "/\\\x00") {
		return errors.New("well_id must not contain path separators")
	}
	return nil
}

// validateFinite rejects NaN and infinite components, which no stage can reason about.
func validateFinite(field string, v []float32) error {
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%s[%d] is not a finite number", field, i)
		}
	}
	return nil
}

// PruneRequest is the request body for POST /v1/prune.
type PruneRequest struct {
	UUID      string    `json:"uuid"`
	Embedding []float32 `json:"embedding"`
	Threshold *float32  `json:"threshold,omitempty"`
	ReduceDim *int      `json:"reduce_dim,omitempty"`
	Metadata  any       `json:"metadata,omitempty"`
}

// Validate checks a prune request. An empty embedding is rejected because the
// reduction percentage is undefined for it.
func (r PruneRequest) Validate() error {
	if len(r.Embedding) == 0 {
		return errors.New("embedding must not be empty")
	}
	if len(r.Embedding) > MaxEmbeddingLen {
		return fmt.Errorf("embedding exceeds maximum length of %d", MaxEmbeddingLen)
	}
	if err := validateFinite("embedding", r.Embedding); err != nil {
		return err
	}
	if r.Threshold != nil && (*r.Threshold < 0 || math.IsNaN(float64(*r.Threshold))) {
		return errors.New("threshold must be a non-negative number")
	}
	if r.ReduceDim != nil && *r.ReduceDim < 1 {
		return errors.New("reduce_dim must be at least 1")
	}
	return nil
}

// PruneResponse is the response body for POST /v1/prune.
type PruneResponse struct {
	UUID            string      `json:"uuid"`
	PrunedEmbedding []float32   `json:"pruned_embedding"`
	Timestamp       time.Time   `json:"timestamp"`
	Details         PruneDetail `json:"details"`
}

// AnchorRequest is the request body for POST /v1/anchor.
type AnchorRequest struct {
	UUID            string    `json:"uuid"`
	PrunedEmbedding []float32 `json:"pruned_embedding"`
	Metadata        any       `json:"metadata,omitempty"`
}

// Validate checks an anchor request. Empty embeddings are valid input: they
// resolve to a rejected result rather than an error.
func (r AnchorRequest) Validate() error {
	if len(r.PrunedEmbedding) > MaxEmbeddingLen {
		return fmt.Errorf("pruned_embedding exceeds maximum length of %d", MaxEmbeddingLen)
	}
	return validateFinite("pruned_embedding", r.PrunedEmbedding)
}

// AnchorResponse is the response body for POST /v1/anchor.
type AnchorResponse struct {
	UUID              string       `json:"uuid"`
	AnchoredEmbedding []float32    `json:"anchored_embedding"`
	Status            AnchorStatus `json:"status"`
	Timestamp         time.Time    `json:"timestamp"`
	Summary           string       `json:"summary"`
}

// InterpretRequest is the request body for POST /v1/interpret.
type InterpretRequest struct {
	Text string `json:"text"`
}

// Validate checks an interpret request.
func (r InterpretRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("text is required")
	}
	if len(r.Text) > MaxInterpretText {
		return fmt.Errorf("text exceeds maximum length of %d bytes", MaxInterpretText)
	}
	return nil
}

// InterpretResponse is the response body for POST /v1/interpret.
type InterpretResponse struct {
	Text        string   `json:"text"`
	NounPhrases []string `json:"noun_phrases"`
}

// IngestResponse is the response body for POST /v1/ingest.
type IngestResponse struct {
	Status   string `json:"status"`
	WellID   string `json:"well_id"`
	Source   Source `json:"source"`
	FilePath string `json:"file_path"`
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// TokenRequest is the request body for POST /auth/token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse carries a bearer token for the state-changing routes.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	Index     string `json:"index"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
