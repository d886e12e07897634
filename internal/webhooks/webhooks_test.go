package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"task_id":"mb_1_report_3"}`)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	header := Sign(body, secret, now)
	assert.NoError(t, VerifySignature(header, body, secret, now, time.Minute))

	// Tampered body fails.
	assert.Error(t, VerifySignature(header, []byte(`{"task_id":"mb_2"}`), secret, now, time.Minute))
	// Wrong secret fails.
	assert.Error(t, VerifySignature(header, body, []byte("other"), now, time.Minute))
	// Stale timestamp fails.
	assert.Error(t, VerifySignature(header, body, secret, now.Add(time.Hour), time.Minute))
	// Garbage header fails.
	assert.Error(t, VerifySignature("nope", body, secret, now, time.Minute))
}

func TestSenderSetsHeaders(t *testing.T) {
	secret := []byte("webhook-secret")
	var gotAuth, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSig = r.Header.Get("X-ADCP-Signature")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(5*time.Second, secret)
	status, err := sender.Send(context.Background(), Endpoint{
		URL:       srv.URL,
		AuthType:  "bearer",
		AuthToken: "tok_push",
	}, map[string]string{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bearer tok_push", gotAuth)
	require.NotEmpty(t, gotSig)
	assert.NoError(t, VerifySignature(gotSig, gotBody, secret, time.Now(), time.Minute))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "completed", payload["status"])
}

func TestSenderReportsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewSender(5*time.Second, nil)
	status, err := sender.Send(context.Background(), Endpoint{URL: srv.URL}, map[string]string{})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
}
