package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sage-gateway-go/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, apiKey string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(models.ModerationConfig{APIKey: apiKey, URL: server.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestModerate_Flagged(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var req moderationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input != "some text" {
			t.Errorf("Unexpected request %+v err=%v", req, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"flagged":true,"categories":{"violence":true,"self-harm/intent":true,"hate":false}}]}`))
	}, "key")

	result := client.Moderate(context.Background(), "some text")
	if !result.Flagged || result.Err != nil {
		t.Fatalf("Expected flagged result, got %+v", result)
	}
	if strings.Join(result.Categories, ",") != "self-harm/intent,violence" {
		t.Errorf("Unexpected categories: %v", result.Categories)
	}
}

func TestModerate_NotFlagged(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"flagged":false,"categories":{"violence":false}}]}`))
	}, "key")

	result := client.Moderate(context.Background(), "hello")
	if result.Flagged || result.Err != nil || len(result.Categories) != 0 {
		t.Errorf("Expected clean result, got %+v", result)
	}
}

func TestModerate_FailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		apiKey  string
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, "key"},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("nope")) }, "key"},
		{"empty results", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"results":[]}`)) }, "key"},
		{"no api key", func(w http.ResponseWriter, r *http.Request) { t.Errorf("Request should not be sent") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler, tt.apiKey)
			result := client.Moderate(context.Background(), "hello")
			if result.Flagged {
				t.Errorf("Expected fail-open, got flagged")
			}
			if result.Err == nil {
				t.Errorf("Expected error to be reported")
			}
		})
	}
}

func TestSupportiveResponse(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		expected   string
	}{
		{"self harm", []string{"self-harm"}, crisisResponse},
		{"self harm instructions with violence", []string{"violence", "self-harm/instructions"}, crisisResponse},
		{"violence graphic", []string{"violence/graphic"}, violenceResponse},
		{"harassment", []string{"harassment"}, genericResponse},
		{"none", nil, genericResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupportiveResponse(tt.categories); got != tt.expected {
				t.Errorf("Unexpected response for %v", tt.categories)
			}
		})
	}
}
