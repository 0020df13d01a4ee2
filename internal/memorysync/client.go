// Package memorysync talks to the external memory service over HTTP/JSON:
// searching for candidate Q/A matches before a run, and reporting hits,
// validation outcomes, and new candidates after one. Failures degrade to
// empty results rather than aborting the run.
package memorysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// AuthMode selects how the client authenticates to the memory service.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthJWT    AuthMode = "jwt"
)

// Config configures the memory-service client.
type Config struct {
	BaseURL    string
	AuthMode   AuthMode
	BearerToken string
	JWTSecret  string
	JWTSubject string
	JWTExpiry  time.Duration
	Timeout    time.Duration
}

// Client is a thin HTTP/JSON client over the memory service's qa endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a memory-service client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SearchRequest is the pre-run qa search request body.
type SearchRequest struct {
	ProjectID string   `json:"project_id,omitempty"`
	Query     string   `json:"query"`
	Tags      []string `json:"tags,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	MinScore  float32  `json:"min_score,omitempty"`
}

type searchResponse struct {
	Matches []models.SearchMatch `json:"matches"`
}

// Search queries the memory service for candidate matches. On any
// transport, auth, or decode failure it logs a warning and returns an
// empty slice rather than propagating the error — a degraded memory
// service must never fail a run.
func (c *Client) Search(ctx context.Context, req SearchRequest) []models.SearchMatch {
	var resp searchResponse
	if err := c.postJSON(ctx, "/v1/qa/search", req, &resp); err != nil {
		c.logger.WarnContext(ctx, "memory search degraded", "error", err)
		return nil
	}
	return resp.Matches
}

// HitRequest reports that a qa_id was shown and/or used during a run.
type HitRequest struct {
	RunID string         `json:"run_id"`
	Hits  []models.HitRef `json:"hits"`
}

// ReportHits sends the hit refs produced by the gatekeeper. Failures are
// logged and swallowed.
func (c *Client) ReportHits(ctx context.Context, runID string, hits []models.HitRef) {
	if len(hits) == 0 {
		return
	}
	if err := c.postJSON(ctx, "/v1/qa/hit", HitRequest{RunID: runID, Hits: hits}, nil); err != nil {
		c.logger.WarnContext(ctx, "memory hit report degraded", "run_id", runID, "error", err)
	}
}

// ValidateRequest carries a run's ValidatePlans for the /v1/qa/validate endpoint.
type ValidateRequest struct {
	RunID string               `json:"run_id"`
	Plans []models.ValidatePlan `json:"plans"`
}

// ReportValidations sends validation plans computed by the gatekeeper.
func (c *Client) ReportValidations(ctx context.Context, runID string, plans []models.ValidatePlan) {
	if len(plans) == 0 {
		return
	}
	if err := c.postJSON(ctx, "/v1/qa/validate", ValidateRequest{RunID: runID, Plans: plans}, nil); err != nil {
		c.logger.WarnContext(ctx, "memory validate report degraded", "run_id", runID, "error", err)
	}
}

// CandidateRequest proposes a new qa pair derived from a run for later
// promotion, when the gatekeeper did not find a strong existing match.
type CandidateRequest struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Tags     []string `json:"tags,omitempty"`
}

// ReportCandidate submits a new qa candidate. Failures are logged and
// swallowed.
func (c *Client) ReportCandidate(ctx context.Context, req CandidateRequest) {
	if err := c.postJSON(ctx, "/v1/qa/candidates", req, nil); err != nil {
		c.logger.WarnContext(ctx, "memory candidate report degraded", "run_id", req.RunID, "error", err)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.authToken()
	if err != nil {
		return fmt.Errorf("auth token for %s: %w", path, err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request %s failed: %s (%s)", path, resp.Status, strings.TrimSpace(string(errBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) authToken() (string, error) {
	switch c.cfg.AuthMode {
	case "", AuthNone:
		return "", nil
	case AuthBearer:
		return c.cfg.BearerToken, nil
	case AuthJWT:
		return c.signJWT()
	default:
		return "", fmt.Errorf("unknown auth mode %q", c.cfg.AuthMode)
	}
}

func (c *Client) signJWT() (string, error) {
	if c.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt auth requested but no secret configured")
	}
	now := time.Now()
	expiry := c.cfg.JWTExpiry
	if expiry <= 0 {
		expiry = time.Minute
	}
	claims := jwt.RegisteredClaims{
		Subject:   c.cfg.JWTSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.JWTSecret))
}
