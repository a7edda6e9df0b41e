package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/symptom-assistant/internal/infrastructure/resilience"
)

const (
	DefaultSubject    = "analyses.submitted"
	workerQueueGroup  = "enrichment-workers"
	defaultHandlerTTL = 2 * time.Minute
)

type Queue struct {
	conn           *nats.Conn
	subject        string
	executor       *resilience.Executor
	handlerTimeout time.Duration
	onDelivered    func(lag time.Duration)
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// HandlerTimeout bounds one phase-2 run started from a delivered message.
	HandlerTimeout time.Duration
	// OnDelivered receives the delay between publish and delivery.
	OnDelivered func(lag time.Duration)
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	handlerTimeout := options.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTTL
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("symptom-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		executor:       options.ResilienceExecutor,
		handlerTimeout: handlerTimeout,
		onDelivered:    options.OnDelivered,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Connected() bool {
	return q.conn != nil && q.conn.IsConnected()
}

// submittedEvent is the wire form of the phase-2 trigger.
type submittedEvent struct {
	AnalysisID  string    `json:"analysis_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func encodeSubmitted(analysisID string, at time.Time) ([]byte, error) {
	return json.Marshal(submittedEvent{AnalysisID: analysisID, SubmittedAt: at.UTC()})
}

func decodeSubmitted(data []byte) (submittedEvent, error) {
	var ev submittedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return submittedEvent{}, fmt.Errorf("decode submitted event: %w", err)
	}
	ev.AnalysisID = strings.TrimSpace(ev.AnalysisID)
	if ev.AnalysisID == "" {
		return submittedEvent{}, errors.New("decode submitted event: analysis_id is empty")
	}
	return ev, nil
}

func (q *Queue) PublishAnalysisSubmitted(ctx context.Context, analysisID string) error {
	payload, err := encodeSubmitted(analysisID, time.Now())
	if err != nil {
		return fmt.Errorf("encode submitted event: %w", err)
	}
	msg := nats.NewMsg(q.subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, analysisID)

	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeAnalysisSubmitted blocks until ctx is done, then drains the
// subscription. Handlers already running are not cancelled by ctx; each is
// bounded by the handler timeout instead.
func (q *Queue) SubscribeAnalysisSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		q.deliver(ctx, msg.Subject, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if !waitDrained(sub.IsValid, q.handlerTimeout) {
		slog.Warn("worker_drain_timeout", "subject", q.subject, "timeout", q.handlerTimeout.String())
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) deliver(ctx context.Context, subject string, data []byte, handler func(context.Context, string) error) {
	ev, err := decodeSubmitted(data)
	if err != nil {
		slog.Error("worker_message_dropped", "subject", subject, "error", err)
		return
	}
	if q.onDelivered != nil && !ev.SubmittedAt.IsZero() {
		q.onDelivered(time.Since(ev.SubmittedAt))
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.handlerTimeout)
	defer cancel()
	if err := handler(handlerCtx, ev.AnalysisID); err != nil {
		slog.Error("worker_handler_error", "analysis_id", ev.AnalysisID, "error", err)
	}
}

// waitDrained polls until the drained subscription is closed or limit passes.
func waitDrained(valid func() bool, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for valid() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}
