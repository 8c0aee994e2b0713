package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/cpd/internal/events"
)

func TestEncodeWireFormat(t *testing.T) {
	payload := []byte(`{"certificate_id":"c1"}`)
	frame := encodeWireFormat(513, payload)

	require.Len(t, frame, 5+len(payload))
	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(513), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, payload, frame[5:])
}

func TestSchemaCatalogCoversEveryRoute(t *testing.T) {
	for eventType := range events.Routes {
		entry, ok := schemaCatalog[eventType]
		require.Truef(t, ok, "missing schema for %s", eventType)
		require.True(t, json.Valid([]byte(entry.Schema)), "schema for %s must be valid JSON", eventType)
	}
}

func TestSchemaRegistryClientReturnsLatest(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/cpd_credit_issued-value/versions/latest":
			w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
			_, _ = w.Write([]byte(`{"subject":"cpd_credit_issued-value","version":3,"id":17}`))
		default:
			posts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL)
	id, err := client.EnsureSchema(context.Background(), "cpd_credit_issued-value", creditIssuedSchema)
	require.NoError(t, err)
	require.Equal(t, 17, id)
	require.Zero(t, posts.Load())
}

func TestSchemaRegistryClientRegistersMissingSubject(t *testing.T) {
	var registered map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":40401,"message":"Subject not found."}`))
			return
		}
		require.Equal(t, "/subjects/cpd_certificate_revoked-value/versions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &registered))
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL)
	id, err := client.EnsureSchema(context.Background(), "cpd_certificate_revoked-value", certificateRevokedSchema)
	require.NoError(t, err)
	require.Equal(t, 42, id)
	require.Equal(t, "JSON", registered["schemaType"])
	require.Equal(t, certificateRevokedSchema, registered["schema"])
}

func TestSchemaRegistryClientSurfacesRegisterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error_code":409,"message":"incompatible"}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.Error(t, err)
	require.Contains(t, err.Error(), "incompatible")
}

func TestBackoffDelayIsCapped(t *testing.T) {
	m := NewDLQManager(nil, nil, 3, 0)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(12))
}

func TestDLQOutcomeLabelsByAggregate(t *testing.T) {
	entry := dlqEntry{EventType: events.TypeCertificateRevoked, AggregateType: "certificate", RetryCount: 2}
	retry := dlqOutcomeCounter.WithLabelValues("certificate", events.TypeCertificateRevoked, dlqOutcomeRetry)
	requeued := dlqOutcomeCounter.WithLabelValues("certificate", events.TypeCertificateRevoked, dlqOutcomeRequeued)
	beforeRetry, beforeRequeued := testutil.ToFloat64(retry), testutil.ToFloat64(requeued)

	recordDLQOutcome(entry, dlqOutcomeRetry)
	recordDLQOutcome(entry, dlqOutcomeRequeued)

	require.InDelta(t, beforeRetry+1, testutil.ToFloat64(retry), 0.0001)
	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(requeued), 0.0001)
	require.GreaterOrEqual(t, testutil.CollectAndCount(dlqRequeueAttempts, "cpd_engine_dlq_requeue_attempts"), 1)
}
