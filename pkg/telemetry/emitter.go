package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	// TokenHeader carries the shared callback token.
	TokenHeader = "X-Imagectl-Token"
)

// ErrUnauthorized indicates the receiver rejected the callback token.
var ErrUnauthorized = errors.New("bake telemetry unauthorized")

// ErrInvalidArgument indicates the receiver rejected the payload.
var ErrInvalidArgument = errors.New("bake telemetry invalid argument")

// ErrNotFound indicates the receiver has no endpoint or record for the bake.
var ErrNotFound = errors.New("bake telemetry not found")

// Emitter posts bake lifecycle events to a callback endpoint.
type Emitter struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// Event is one bake lifecycle transition.
type Event struct {
	BakeID     string
	Recipe     string
	Stage      string
	Status     string
	Level      string
	Message    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// NewEmitter creates an emitter posting to callbackURL.
func NewEmitter(callbackURL, token string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimSpace(callbackURL)
	if trimmed == "" {
		return nil, errors.New("bake telemetry callback url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		now:    time.Now,
	}, nil
}

// Emit sends the event. Non-2xx responses map onto the package errors.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e == nil {
		return errors.New("bake telemetry emitter not initialised")
	}
	if strings.TrimSpace(event.BakeID) == "" {
		return errors.New("bake telemetry requires bake_id")
	}
	body, err := json.Marshal(buildPayload(event, e.now))
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set(TokenHeader, e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telemetry request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("telemetry request failed: %s", summary)
	}
}

func buildPayload(event Event, nowFn func() time.Time) map[string]any {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = nowFn()
	}
	level := strings.TrimSpace(event.Level)
	if level == "" {
		level = "info"
	}
	return map[string]any{
		"bake_id":     strings.TrimSpace(event.BakeID),
		"recipe":      event.Recipe,
		"stage":       event.Stage,
		"status":      event.Status,
		"level":       level,
		"message":     strings.TrimSpace(event.Message),
		"metadata":    event.Metadata,
		"occurred_at": occurred.UTC().Format(time.RFC3339Nano),
	}
}
