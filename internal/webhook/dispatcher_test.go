package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"misir/internal/config"
	"misir/internal/webhook"
)

func TestDispatch_DeliversSignedEnvelope(t *testing.T) {
	var gotSig, gotEvent, gotAttempt string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Misir-Signature")
		gotEvent = r.Header.Get("X-Misir-Event")
		gotAttempt = r.Header.Get("X-Misir-Delivery-Attempt")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.WebhookConfig{Endpoint: srv.URL, Secret: "s3cr3t", MaxAttempts: 3, RequestTimeout: 5 * time.Second}
	d := webhook.New(cfg)

	d.Dispatch("artifact.created", map[string]any{"artifact_id": 42})
	d.Drain(context.Background())

	require.Equal(t, "artifact.created", gotEvent)
	require.Equal(t, "1", gotAttempt)
	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestDispatch_RetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.WebhookConfig{
		Endpoint: srv.URL, MaxAttempts: 3,
		InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
	d := webhook.New(cfg)
	d.Dispatch("artifact.updated", map[string]any{})
	d.Drain(context.Background())

	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDispatch_NoEndpointIsNoop(t *testing.T) {
	d := webhook.New(config.WebhookConfig{})
	d.Dispatch("artifact.created", map[string]any{})
	d.Drain(context.Background())
}

type seenOnceDedupe struct {
	seen map[string]bool
}

func (s *seenOnceDedupe) SeenRecently(_ context.Context, key string) bool {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[key] {
		return true
	}
	s.seen[key] = true
	return false
}

func TestDispatch_DedupeSuppressesRepeat(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dd := &seenOnceDedupe{}
	cfg := config.WebhookConfig{Endpoint: srv.URL, MaxAttempts: 1, RequestTimeout: time.Second}
	d := webhook.New(cfg, webhook.WithDedupe(dd))

	payload := map[string]any{"artifact_id": 7, "signal_id": 9}
	d.Dispatch("artifact.created", payload)
	d.Dispatch("artifact.created", payload)
	d.Drain(context.Background())
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
