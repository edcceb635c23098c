package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedrock-data/conveyor/lib/config"
)

func newTestNotifier(t *testing.T, url string) *SlackNotifier {
	t.Helper()
	notifier := NewSlackNotifier(&config.Slack{WebhookURL: url, Channel: "#etl"})
	slackNotifier, ok := notifier.(*SlackNotifier)
	require.True(t, ok)
	return slackNotifier
}

func TestNewSlackNotifier_Unconfigured(t *testing.T) {
	assert.IsType(t, NullNotifier{}, NewSlackNotifier(nil))
	assert.IsType(t, NullNotifier{}, NewSlackNotifier(&config.Slack{}))
}

func TestSlackNotifier_Notify(t *testing.T) {
	var received slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := newTestNotifier(t, server.URL)
	notifier.Notify(NewMessage("orgs_daily finished").
		SetColor("good").
		AddText("1042 rows processed").
		AddField("duration", "42s"))

	assert.Equal(t, "#etl", received.Channel)
	assert.Equal(t, "conveyor", received.Username)
	require.Len(t, received.Attachments, 1)
	attachment := received.Attachments[0]
	assert.Equal(t, "good", attachment.Color)
	assert.Equal(t, "orgs_daily finished\n1042 rows processed", attachment.Text)
	assert.Equal(t, []Field{{Title: "duration", Value: "42s", Short: true}}, attachment.Fields)
}

func TestSlackNotifier_NotifyException(t *testing.T) {
	var received slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := newTestNotifier(t, server.URL)
	notifier.NotifyException("orgs_daily", fmt.Errorf("load aborted"))

	assert.Equal(t, ":beetle:", received.IconEmoji)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	assert.Contains(t, received.Attachments[0].Text, "orgs_daily")
	assert.Equal(t, []Field{
		{Title: "job", Value: "orgs_daily", Short: true},
		{Title: "error", Value: "load aborted", Short: true},
	}, received.Attachments[0].Fields)
}

func TestSlackNotifier_FailureOpensBackoffWindow(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		hits++
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := newTestNotifier(t, server.URL)
	now := time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC)
	notifier.now = func() time.Time { return now }

	// First send fails, does not propagate, and opens the window.
	notifier.Notify(NewMessage("first"))
	assert.Equal(t, 1, hits)

	// Inside the window nothing is sent.
	now = now.Add(time.Minute)
	notifier.Notify(NewMessage("second"))
	assert.Equal(t, 1, hits)

	// Past the window delivery resumes.
	now = now.Add(failureBackoff)
	notifier.Notify(NewMessage("third"))
	assert.Equal(t, 2, hits)
}

func TestSlackNotifier_RateLimit(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		hits++
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := newTestNotifier(t, server.URL)
	for i := 0; i < notifyBurst*3; i++ {
		notifier.Notify(NewMessage("spam"))
	}
	assert.LessOrEqual(t, hits, notifyBurst+1)
}
