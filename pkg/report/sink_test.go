package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/scan"
)

func TestHTTPSinkUpload(t *testing.T) {
	var got Batch
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(http.DefaultClient, server.URL, "s3cr3t")
	batch := Batch{
		Service: "checkout-service",
		Target:  "sha256:d1",
		Key:     "abc123",
		Results: []scan.Result{{TaskID: "trivy-image", Status: scan.StatusSuccess}},
		SentAt:  time.Now(),
	}
	require.NoError(t, sink.Upload(context.Background(), batch))

	assert.Equal(t, "abc123", gotKey)
	assert.Equal(t, "Scope-Probe token=s3cr3t", gotAuth)
	assert.Equal(t, "checkout-service", got.Service)
	assert.Len(t, got.Results, 1)
}

func TestHTTPSinkUploadErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewHTTPSink(http.DefaultClient, server.URL, "")
	err := sink.Upload(context.Background(), Batch{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()
	ref, err := store.SaveReport(context.Background(), "checkout-service/sha256:d1/trivy.json", []byte(`{"Results":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "mem://checkout-service/sha256:d1/trivy.json", ref)

	body, err := store.FetchReport(context.Background(), "checkout-service/sha256:d1/trivy.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Results":[]}`, string(body))

	_, err = store.FetchReport(context.Background(), "nope")
	assert.Error(t, err)
}
