package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transferdesk/transferdesk/pkg/contracts"
)

func TestMemorySinkCaptures(t *testing.T) {
	s := NewMemorySink()

	require.NoError(t, s.Send(context.Background(), contracts.Notification{
		Recipient: "End User",
		Type:      "approve",
	}))

	sent := s.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "approve", sent[0].Type)

	s.Reset()
	assert.Empty(t, s.Sent())
}

func TestWebhookSinkPosts(t *testing.T) {
	var got contracts.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	err := sink.Send(context.Background(), contracts.Notification{
		Message:   "Transfer escalated",
		Recipient: "Admin",
		Type:      "escalate",
		RequestID: "transfer-acme-japan",
	})
	require.NoError(t, err)
	assert.Equal(t, "Admin", got.Recipient)
	assert.Equal(t, "transfer-acme-japan", got.RequestID)
}

func TestWebhookSinkReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	err := sink.Send(context.Background(), contracts.Notification{Recipient: "Legal"})
	assert.Error(t, err)
}
