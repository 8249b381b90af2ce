package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/shared/config"
	"github.com/clinicops/platform/internal/shared/settings"
	"github.com/clinicops/platform/internal/shared/types"
)

func newTestLineClient(t *testing.T, url string, tenant types.ID, token string) *LineClient {
	t.Helper()
	resolver := settings.NewResolver(settings.MapStore{tenant: {settings.LineChannelAccessToken: token}}, 0).
		WithEnv(func(string) (string, bool) { return "", false })
	return NewLineClient(config.LineConfig{APIBaseURL: url, PushRate: 100, PushBurst: 10}, resolver, zerolog.Nop())
}

func TestLineClient_Send(t *testing.T) {
	tenant := types.NewID()
	var got struct {
		To       string    `json:"to"`
		Messages []Message `json:"messages"`
	}
	var auth, retryKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		auth = r.Header.Get("Authorization")
		retryKey = r.Header.Get("X-Line-Retry-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestLineClient(t, srv.URL, tenant, "tenant-token")
	err := client.Send(context.Background(), tenant, Push{
		To:       "U123",
		Messages: []Message{TextMessage("明日のご予約です")},
		RetryKey: "5f0c7a5e-3b0e-4b7c-9a43-6c1c2f7d8e10",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tenant-token", auth)
	assert.Equal(t, "5f0c7a5e-3b0e-4b7c-9a43-6c1c2f7d8e10", retryKey)
	assert.Equal(t, "U123", got.To)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "明日のご予約です", got.Messages[0].Text)
}

func TestLineClient_Rejected(t *testing.T) {
	tenant := types.NewID()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	}))
	defer srv.Close()

	client := newTestLineClient(t, srv.URL, tenant, "tok")
	err := client.Send(context.Background(), tenant, Push{To: "U1", Messages: []Message{TextMessage("x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The request body has 1 error(s)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is not retried")
}

func TestLineClient_DuplicateRetryKeyIsSuccess(t *testing.T) {
	tenant := types.NewID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := newTestLineClient(t, srv.URL, tenant, "tok")
	err := client.Send(context.Background(), tenant, Push{To: "U1", Messages: []Message{TextMessage("x")}, RetryKey: "k"})
	assert.NoError(t, err)
}

func TestLineClient_MissingToken(t *testing.T) {
	tenant := types.NewID()
	client := newTestLineClient(t, "http://127.0.0.1:1", tenant, "")
	err := client.Send(context.Background(), tenant, Push{To: "U1", Messages: []Message{TextMessage("x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestFlexReminder(t *testing.T) {
	msg, err := FlexReminder(ReminderCard{Name: "山田 花子", DateTime: "2026/2/18 08:00-8:15", Menu: "初診"})
	require.NoError(t, err)

	assert.Equal(t, MessageFlex, msg.Type)
	assert.Equal(t, "ご予約のお知らせ 2026/2/18 08:00-8:15", msg.AltText)

	var bubble map[string]any
	require.NoError(t, json.Unmarshal(msg.Contents, &bubble))
	assert.Equal(t, "bubble", bubble["type"])
	assert.Contains(t, string(msg.Contents), "山田 花子 様")
	assert.Contains(t, string(msg.Contents), "初診")
}

func TestMockSender(t *testing.T) {
	m := NewMockSender()
	tenant := types.NewID()
	require.NoError(t, m.Send(context.Background(), tenant, Push{To: "U1"}))

	m.SetFailFor("U2", true)
	assert.Error(t, m.Send(context.Background(), tenant, Push{To: "U2"}))

	m.SetFailOnSend(true)
	assert.Error(t, m.Send(context.Background(), tenant, Push{To: "U1"}))
	assert.Len(t, m.Sent(), 1)
}
