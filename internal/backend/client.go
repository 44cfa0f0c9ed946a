// Package backend notifies the Backend service about analysis outcomes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// defaultTimeout bounds a single notification call.
const defaultTimeout = 10 * time.Second

// Notification statuses reported to the Backend.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Config holds notifier settings.
type Config struct {
	// Enabled gates notification delivery entirely.
	Enabled bool
	// BaseURL is the Backend service base URL.
	BaseURL string
	// Timeout is the per-notification HTTP timeout.
	Timeout time.Duration
}

// Notifier delivers best-effort completion notifications to the Backend.
// Delivery failures are logged and swallowed: a lost notification must never
// fail the analysis request it describes.
type Notifier struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewNotifier creates a Notifier with the given configuration.
func NewNotifier(cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Notifier{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger.With().Str("component", "backend-notifier").Logger(),
	}
}

// notification is the JSON body posted to the Backend.
type notification struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Service   string `json:"service"`
	Data      any    `json:"data,omitempty"`
}

// Notify posts a completion notification for one analysis request. It returns
// whether delivery succeeded; callers may ignore the result.
func (n *Notifier) Notify(ctx context.Context, requestID, status string, payload any) bool {
	if !n.config.Enabled {
		return false
	}

	body, err := json.Marshal(notification{
		RequestID: requestID,
		Status:    status,
		Service:   "ai-service",
		Data:      payload,
	})
	if err != nil {
		n.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to marshal notification")
		return false
	}

	endpoint := n.config.BaseURL + "/api/notifications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to create notification request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("request_id", requestID).Msg("backend notification failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn().
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Msg("backend rejected notification")
		return false
	}

	n.logger.Debug().
		Str("request_id", requestID).
		Str("notification_status", status).
		Msg("backend notified")
	return true
}
