package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
)

type generateResponse struct {
	Activities []ActivityProposal `json:"activities"`
}

// HTTPGenerator posts the bundle to a remote generation service.
type HTTPGenerator struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

type HTTPOption func(*HTTPGenerator)

func WithLogger(logger *zap.Logger) HTTPOption {
	return func(g *HTTPGenerator) { g.logger = logger }
}

// WithRetryWait overrides the pause between retries.
func WithRetryWait(wait time.Duration) HTTPOption {
	return func(g *HTTPGenerator) { g.client.SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait) }
}

func NewHTTPGenerator(url, apiKey string, timeout time.Duration, opts ...HTTPOption) *HTTPGenerator {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	g := &HTTPGenerator{client: client, url: url, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *HTTPGenerator) Generate(ctx context.Context, bundle ContextBundle) ([]ActivityProposal, error) {
	started := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(bundle).
		Post(g.url)
	if err != nil {
		g.logger.Warn("generation request failed",
			zap.String("person_id", bundle.PersonID),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Transient("generation timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.Transient("generation service unavailable", err)
	}

	status := resp.StatusCode()
	if status >= http.StatusInternalServerError {
		g.logger.Warn("generation service error", zap.Int("status_code", status))
		return nil, domain.Transient("generation service unavailable", fmt.Errorf("status %d", status))
	}
	if resp.IsError() {
		g.logger.Warn("generation rejected", zap.Int("status_code", status), zap.ByteString("body", truncate(resp.Body(), 512)))
		return nil, domain.GenerationFailed("generation request rejected", fmt.Errorf("status %d", status))
	}

	var decoded generateResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, domain.GenerationFailed("generation response is not valid JSON", err)
	}
	proposals := make([]ActivityProposal, 0, len(decoded.Activities))
	for _, proposal := range decoded.Activities {
		proposal.Type = strings.TrimSpace(proposal.Type)
		if proposal.Type == "" {
			continue
		}
		if proposal.SuggestedDay != nil && (*proposal.SuggestedDay < 0 || *proposal.SuggestedDay > 6) {
			proposal.SuggestedDay = nil
		}
		proposals = append(proposals, proposal)
	}
	if len(proposals) == 0 {
		return nil, domain.GenerationFailed("no activities proposed", nil)
	}

	g.logger.Info("generated activities",
		zap.String("person_id", bundle.PersonID),
		zap.Int("activity_count", len(proposals)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return proposals, nil
}

func truncate(body []byte, limit int) []byte {
	if len(body) > limit {
		return body[:limit]
	}
	return body
}
