// Package rag is the HTTP client for the retrieval-augmented answer service.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/metrics"
	"github.com/go-resty/resty/v2"
)

const (
	answerPath  = "/rag/answer"
	summaryPath = "/rag/summary"
)

// Client calls the RAG service.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// NewClient returns a client for baseURL. Every call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "FinComply-Orchestrator/1.0").
		SetTimeout(timeout)

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Answer asks the service a question grounded on a title and summary.
func (c *Client) Answer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	var resp Answer
	if err := c.post(ctx, "answer", answerPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summarize turns a raw circular body into a title, summary and optional date.
func (c *Client) Summarize(ctx context.Context, body string) (*Summary, error) {
	raw := map[string]any{}
	if err := c.post(ctx, "summary", summaryPath, SummaryRequest{Body: body}, &raw); err != nil {
		return nil, err
	}
	return NormalizeSummary(raw), nil
}

func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordUpstream(op, status, time.Since(start).Seconds())
	}()

	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		ForceContentType("application/json").
		SetBody(body).
		SetResult(result).
		Post(path)
	if err != nil {
		if httpResp != nil && httpResp.RawResponse != nil && httpResp.IsSuccess() {
			status = "malformed"
			return apperr.Wrap(apperr.KindUpstreamContract, "RAG API returned a malformed response", err)
		}
		slog.Warn("RAG request failed", "operation", op, "error", err)
		return apperr.UpstreamUnavailable("RAG API request failed", err)
	}
	if !httpResp.IsSuccess() {
		status = fmt.Sprintf("%d", httpResp.StatusCode())
		return apperr.UpstreamUnavailable(
			fmt.Sprintf("RAG API request failed (%d): %s", httpResp.StatusCode(), httpResp.String()), nil)
	}

	status = "ok"
	return nil
}
