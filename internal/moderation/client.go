// Package moderation screens inbound messages with an external classifier.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const DefaultURL = "https://api.openai.com/v1/moderations"

// Result is the classifier verdict. Err is set when the classifier could not
// be reached; the message is then allowed through.
type Result struct {
	Flagged    bool
	Categories []string
	Err        error
}

type Client struct {
	httpClient http.Client
	url        string
	apiKey     string
}

func NewClient(cfg models.ModerationConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient, err := createHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create moderation http client: %w", err)
	}

	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}

	return &Client{httpClient: httpClient, url: url, apiKey: cfg.APIKey}, nil
}

func createHttpClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   5 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Moderate classifies text. It never blocks a message because of its own
// failure.
func (c *Client) Moderate(ctx context.Context, text string) Result {
	result, err := c.classify(ctx, text)
	if err != nil {
		zap.L().Warn("Moderation unavailable, allowing message", zap.Error(err))
		return Result{Err: err}
	}
	for _, category := range result.Categories {
		metrics.ModerationFlaggedTotal.WithLabelValues(category).Inc()
	}
	return result
}

func (c *Client) classify(ctx context.Context, text string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, fmt.Errorf("moderation api key not configured")
	}

	payload, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("moderation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("moderation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode moderation response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return Result{}, fmt.Errorf("moderation response had no results")
	}

	first := decoded.Results[0]
	if !first.Flagged {
		return Result{}, nil
	}

	categories := make([]string, 0, len(first.Categories))
	for category, flagged := range first.Categories {
		if flagged {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	return Result{Flagged: true, Categories: categories}, nil
}
