package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bedrock-data/conveyor/lib/config"
)

const (
	defaultUsername  = "conveyor"
	exceptionEmoji   = ":beetle:"
	colorDanger      = "danger"
	failureBackoff   = 5 * time.Minute
	notifyBurst      = 5
	notifyPerMinute  = 20
	slackHTTPTimeout = 10 * time.Second
)

// SlackNotifier posts to an incoming webhook. Sends are rate limited and a
// delivery failure opens a backoff window so a flapping webhook cannot slow
// down the worker.
type SlackNotifier struct {
	httpClient http.Client
	webhookURL string
	channel    string
	username   string

	limiter *rate.Limiter
	now     func() time.Time

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewSlackNotifier returns a NullNotifier when Slack is not configured, so
// callers never need to nil-check.
func NewSlackNotifier(cfg *config.Slack) Notifier {
	if cfg == nil || cfg.WebhookURL == "" {
		return NullNotifier{}
	}

	username := cfg.Username
	if username == "" {
		username = defaultUsername
	}

	return &SlackNotifier{
		httpClient: http.Client{Timeout: slackHTTPTimeout},
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   username,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/notifyPerMinute), notifyBurst),
		now:        time.Now,
	}
}

type slackPayload struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

func (s *SlackNotifier) Notify(msg *Message) {
	s.post(s.payload(msg, ""))
}

func (s *SlackNotifier) NotifyException(jobID string, err error) {
	msg := NewMessage(fmt.Sprintf("Job %s raised an exception", jobID)).
		SetColor(colorDanger).
		AddField("job", jobID).
		AddField("error", err.Error())
	s.post(s.payload(msg, exceptionEmoji))
}

func (s *SlackNotifier) payload(msg *Message, emoji string) slackPayload {
	text := strings.Join(msg.lines, "\n")
	return slackPayload{
		Channel:   s.channel,
		Username:  s.username,
		IconEmoji: emoji,
		Attachments: []Attachment{{
			Color:    msg.color,
			Fallback: text,
			Text:     text,
			Fields:   msg.fields,
		}},
	}
}

func (s *SlackNotifier) post(payload slackPayload) {
	if !s.shouldSend() {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal the Slack payload", slog.Any("err", err))
		return
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.deliveryFailed(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.deliveryFailed(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
}

func (s *SlackNotifier) shouldSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().Before(s.backoffUntil) {
		slog.Debug("Dropping a Slack notification, webhook is backing off")
		return false
	}

	if !s.limiter.Allow() {
		slog.Debug("Dropping a Slack notification, rate limit hit")
		return false
	}

	return true
}

func (s *SlackNotifier) deliveryFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backoffUntil = s.now().Add(failureBackoff)
	slog.Warn("Failed to deliver a Slack notification",
		slog.Any("err", err),
		slog.Time("backoffUntil", s.backoffUntil),
	)
}
