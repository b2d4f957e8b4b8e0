package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/resilience"
)

func directive() model.Notification {
	code, _ := model.ParseNaturalCode("29.250")
	return model.Notification{
		RecipientID: "user-1",
		ScopeID:     "guild-1",
		Alert:       model.Alert{Kind: model.AlertRegion, Value: "Islay"},
		Record:      model.Record{Code: code, Name: "Smoke on the water", Region: "Islay"},
	}
}

func TestWebhookNotifier_Deliver(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Deliver(context.Background(), directive()))

	assert.Equal(t, "user-1", got.RecipientID)
	assert.Equal(t, "guild-1", got.ScopeID)
	assert.Equal(t, "region", got.AlertKind)
	assert.Equal(t, "Smoke on the water", got.Record.Name)
}

func TestWebhookNotifier_RecipientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// The frontend reports an unreachable recipient as 404.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Deliver(context.Background(), directive())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestWebhookNotifier_TransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	n.retry.InitialBackoff = time.Millisecond
	err := n.Deliver(context.Background(), directive())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2, int(calls.Load()))
}

func TestWebhookNotifier_UnconfiguredURL(t *testing.T) {
	n := NewWebhookNotifier("", time.Second)
	assert.Error(t, n.Deliver(context.Background(), directive()))
}
