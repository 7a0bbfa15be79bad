// Package webhook receives payment notifications from the donation provider.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sage-gateway-go/internal/api"
	"sage-gateway-go/internal/metrics"
	"sage-gateway-go/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	bodyLimit       = 1024 * 1024 // 1 MiB
	signatureHeader = "X-Signature-SHA256"
	shutdownTimeout = 30 * time.Second
)

// PaymentProcessor reconciles decoded notifications.
type PaymentProcessor interface {
	HandlePaymentNotification(ctx context.Context, notification *models.PaymentNotification) *models.PaymentResult
	HealthCheck(ctx context.Context) error
}

// NotifyFunc is called after a successful reconciliation.
type NotifyFunc func(ctx context.Context, result *models.PaymentResult)

type Server struct {
	processor PaymentProcessor
	secret    string
	notify    NotifyFunc
	router    *mux.Router
	addr      string
}

func NewServer(cfg models.WebhookConfig, secret string, processor PaymentProcessor, notify NotifyFunc) *Server {
	s := &Server{
		processor: processor,
		secret:    secret,
		notify:    notify,
		router:    mux.NewRouter(),
		addr:      ":" + cfg.Port,
	}

	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	s.router.Use(recoverMiddleware)
	s.router.HandleFunc(path, s.handlePayment).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Webhook server listening", zap.String("addr", s.addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown failed: %w", err)
	}
	zap.L().Info("Webhook server stopped")
	return nil
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(s.secret) == "" {
		status = http.StatusServiceUnavailable
		respondWithStatus(w, status, models.PaymentStatusError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		respondWithStatus(w, status, models.PaymentStatusError)
		return
	}

	notification, parseErr := api.ParsePaymentPayload(body, r.Header.Get("Content-Type"))

	if !s.verify(body, notification, r.Header.Get(signatureHeader)) {
		zap.L().Warn("Rejected webhook with failed verification", zap.String("remote_addr", r.RemoteAddr))
		status = http.StatusUnauthorized
		respondWithStatus(w, status, models.PaymentStatusError)
		return
	}

	if parseErr != nil {
		zap.L().Warn("Malformed payment payload", zap.Error(parseErr))
		metrics.PaymentsTotal.WithLabelValues(models.PaymentStatusError).Inc()
		respondWithStatus(w, status, models.PaymentStatusError)
		return
	}

	result := s.processor.HandlePaymentNotification(r.Context(), notification)
	if result.Status == models.PaymentStatusSuccess && s.notify != nil {
		go s.notify(context.WithoutCancel(r.Context()), result)
	}

	respondWithStatus(w, status, result.Status)
}

// verify accepts either the provider's embedded verification token or an
// HMAC-SHA256 signature of the raw body.
func (s *Server) verify(body []byte, notification *models.PaymentNotification, signature string) bool {
	if notification != nil && notification.VerificationToken != "" {
		return subtle.ConstantTimeCompare([]byte(notification.VerificationToken), []byte(s.secret)) == 1
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(provided, Sign(body, s.secret))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.processor.HealthCheck(r.Context()); err != nil {
		zap.L().Warn("Health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("Webhook handler panicked", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				respondWithStatus(w, http.StatusInternalServerError, models.PaymentStatusError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondWithStatus(w http.ResponseWriter, code int, status string) {
	respondWithJSON(w, code, map[string]string{"status": status})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Warn("Failed to write response", zap.Error(err))
		}
	}
}
