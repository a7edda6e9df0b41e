package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

func TestSubmittedEventRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	payload, err := encodeSubmitted("a-1", at)
	if err != nil {
		t.Fatalf("encodeSubmitted() error = %v", err)
	}
	ev, err := decodeSubmitted(payload)
	if err != nil {
		t.Fatalf("decodeSubmitted() error = %v", err)
	}
	if ev.AnalysisID != "a-1" || !ev.SubmittedAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDecodeSubmittedRejectsBadPayload(t *testing.T) {
	for _, payload := range []string{"a-1", `{"analysis_id":"  "}`, `{}`} {
		if _, err := decodeSubmitted([]byte(payload)); err == nil {
			t.Fatalf("expected error for payload %q", payload)
		}
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		record    bool
	}{
		{nats.ErrNoServers, true, true},
		{fmt.Errorf("nats publish: %w", nats.ErrConnectionClosed), true, true},
		{gobreaker.ErrOpenState, true, true},
		{context.Canceled, false, false},
		{nats.ErrMaxPayload, false, false},
		{errors.New("unknown"), false, true},
	}
	for _, tc := range cases {
		class := classifyNATSError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
			t.Fatalf("classifyNATSError(%v) = %+v", tc.err, class)
		}
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(fmt.Errorf("nats publish: %w", nats.ErrNoServers))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	plain := errors.New("bad subject")
	if got := wrapTemporaryIfNeeded(plain); got != plain {
		t.Fatalf("expected permanent error unchanged, got %v", got)
	}
}

func TestDeliverDetachesHandlerFromShutdown(t *testing.T) {
	q := &Queue{handlerTimeout: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	payload, err := encodeSubmitted("a-1", time.Now())
	if err != nil {
		t.Fatalf("encodeSubmitted() error = %v", err)
	}

	var gotID string
	var handlerErr error
	var hasDeadline bool
	q.deliver(ctx, DefaultSubject, payload, func(handlerCtx context.Context, id string) error {
		gotID = id
		cancel()
		handlerErr = handlerCtx.Err()
		_, hasDeadline = handlerCtx.Deadline()
		return nil
	})

	if gotID != "a-1" {
		t.Fatalf("expected handler for a-1, got %q", gotID)
	}
	if handlerErr != nil {
		t.Fatalf("expected handler context to survive shutdown, got %v", handlerErr)
	}
	if !hasDeadline {
		t.Fatalf("expected handler timeout to be applied")
	}
}

func TestDeliverReportsLagAndDropsBadPayload(t *testing.T) {
	var lags []time.Duration
	q := &Queue{handlerTimeout: time.Minute, onDelivered: func(lag time.Duration) { lags = append(lags, lag) }}
	calls := 0
	handler := func(context.Context, string) error {
		calls++
		return errors.New("enrichment failed")
	}

	q.deliver(context.Background(), DefaultSubject, []byte("not json"), handler)
	payload, _ := encodeSubmitted("a-1", time.Now().Add(-time.Second))
	q.deliver(context.Background(), DefaultSubject, payload, handler)

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if len(lags) != 1 || lags[0] < time.Second {
		t.Fatalf("unexpected lag observations %v", lags)
	}
}

func TestWaitDrained(t *testing.T) {
	polls := 0
	if !waitDrained(func() bool { polls++; return polls < 3 }, time.Second) {
		t.Fatalf("expected drain to complete")
	}
	if waitDrained(func() bool { return true }, 10*time.Millisecond) {
		t.Fatalf("expected drain timeout")
	}
}
