// Package backend runs the generative backend as a subprocess.
//
// The subprocess receives the JSON-encoded history, the user input and the
// user id as its final three arguments. It answers on stdout with a JSON
// object:
//
//	{"text": "...", "usage": {"input_tokens": 12, "output_tokens": 34}}
//
// Plain-text output is accepted too, with usage reported on a trailing line
// as "Input tokens: N, Output tokens: M" or "Usage: input=N output=M".
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"

	"go.uber.org/zap"
)

var (
	ErrBackendFailed = errors.New("backend process failed")
	ErrEmptyResponse = errors.New("backend returned no text")
)

var usagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Input tokens:\s*(\d+),\s*Output tokens:\s*(\d+)`),
	regexp.MustCompile(`(?i)Usage:\s*input=(\d+)\s+output=(\d+)`),
}

// Response is a single generation
type Response struct {
	Text          string
	InputTokens   int64
	OutputTokens  int64
	UsageReported bool
}

type structuredResponse struct {
	Text  string `json:"text"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type Generator struct {
	command string
	args    []string
	dir     string
}

func NewGenerator(cfg models.BackendConfig) (*Generator, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("backend command is required")
	}
	return &Generator{command: cfg.Command, args: cfg.Args, dir: cfg.Dir}, nil
}

// Generate runs one generation. ctx only cancels the process on shutdown;
// no per-request deadline is applied here.
func (g *Generator) Generate(ctx context.Context, history []models.ChatMessage, input, userId string) (*Response, error) {
	if history == nil {
		history = []models.ChatMessage{}
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}

	args := append(append([]string{}, g.args...), string(encoded), input, userId)
	cmd := exec.CommandContext(ctx, g.command, args...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	metrics.BackendDuration.Observe(time.Since(start).Seconds())

	if stderr.Len() > 0 {
		zap.L().Debug("Backend stderr", zap.String("user_id", userId), zap.String("stderr", stderr.String()))
	}
	if err != nil {
		zap.L().Error("Backend process failed",
			zap.String("user_id", userId),
			zap.Error(err),
			zap.String("stderr", lastLine(stderr.String())))
		return nil, fmt.Errorf("%w: %v", ErrBackendFailed, err)
	}

	response := ParseOutput(stdout.String())
	if strings.TrimSpace(response.Text) == "" {
		return nil, ErrEmptyResponse
	}
	if !response.UsageReported {
		zap.L().Warn("Backend reported no usage", zap.String("user_id", userId))
	}
	return response, nil
}

// ParseOutput decodes backend stdout, preferring the JSON contract
func ParseOutput(output string) *Response {
	trimmed := strings.TrimSpace(output)

	var structured structuredResponse
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &structured) == nil {
		response := &Response{Text: structured.Text}
		if structured.Usage != nil {
			response.InputTokens = structured.Usage.InputTokens
			response.OutputTokens = structured.Usage.OutputTokens
			response.UsageReported = true
		}
		return response
	}

	response := &Response{}
	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if in, out, ok := ParseUsage(line); ok {
			response.InputTokens, response.OutputTokens, response.UsageReported = in, out, true
			continue
		}
		lines = append(lines, line)
	}
	response.Text = strings.TrimSpace(strings.Join(lines, "\n"))
	return response
}

// ParseUsage extracts token counts from a legacy usage line
func ParseUsage(line string) (int64, int64, bool) {
	for _, pattern := range usagePatterns {
		match := pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		in, errIn := strconv.ParseInt(match[1], 10, 64)
		out, errOut := strconv.ParseInt(match[2], 10, 64)
		if errIn != nil || errOut != nil {
			return 0, 0, false
		}
		return in, out, true
	}
	return 0, 0, false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
