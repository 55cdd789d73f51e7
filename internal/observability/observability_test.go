package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLoggerStampsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "dev")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.InfoContext(ctx, "inside span")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])

	buf.Reset()
	log.Info("no span")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestLoggerStampsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "dev")

	log.InfoContext(WithRequestID(context.Background(), "req-42"), "handled")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-42", rec["request_id"])

	_, ok := RequestIDFrom(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestObserveDBClassifiesErrors(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	require.NoError(t, p.ObserveDB("users.find_by_id", func() error { return nil }))

	dup := &pgconn.PgError{Code: "23505"}
	require.ErrorIs(t, p.ObserveDB("users.create", func() error { return dup }), dup)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.create", "unique_violation")))
	assert.Equal(t, "timeout", classifyDBErr(errors.New("context deadline exceeded")))
	assert.Equal(t, "unknown", classifyDBErr(errors.New("boom")))
}

func TestNilPromIsNoop(t *testing.T) {
	var p *Prom

	p.AuthOutcome("login", "ok")
	p.ObserveSweep(time.Millisecond, 3, nil)
	require.NoError(t, p.ObserveDB("op", func() error { return nil }))
}

func TestAuthOutcomeAndSweepCounters(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	p.AuthOutcome("login", "INVALID_CREDENTIALS")
	p.AuthOutcome("login", "INVALID_CREDENTIALS")
	p.ObserveSweep(10*time.Millisecond, 4, nil)
	p.ObserveSweep(10*time.Millisecond, 0, errors.New("db down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.AuthOutcomes.WithLabelValues("login", "INVALID_CREDENTIALS")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.SweepCleared))
}

func TestSweepStatsSnapshot(t *testing.T) {
	s := NewSweepStats()
	assert.Nil(t, s.Snapshot().LastRun)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Record(at, 20*time.Millisecond, 2, nil)
	s.Record(at.Add(time.Minute), 5*time.Millisecond, 0, errors.New("x"))

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Runs)
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, uint64(2), snap.Cleared)
	assert.Equal(t, 20*time.Millisecond, snap.MaxDuration)
	require.NotNil(t, snap.LastRun)
	assert.True(t, snap.LastRun.Equal(at.Add(time.Minute)))
}
