package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics implements ports.PipelineObserver for both binaries.
type PipelineMetrics struct {
	service string

	submissionsTotal *prometheus.CounterVec
	enrichmentsTotal *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
	chatRepliesTotal *prometheus.CounterVec
}

func newPipelineMetrics(service string, registry *prometheus.Registry) *PipelineMetrics {
	submissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Total accepted submissions by whether the enrichment trigger was queued.",
		},
		[]string{"service", "queued"},
	)
	enrichmentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "pipeline",
			Name:      "enrichments_total",
			Help:      "Total enrichment runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage reported by the completion API by direction.",
		},
		[]string{"service", "direction", "model"},
	)
	chatRepliesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "chat",
			Name:      "replies_total",
			Help:      "Total chat replies by outcome; fallback replies carry their reason.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(submissionsTotal, enrichmentsTotal, llmTokensTotal, chatRepliesTotal)

	return &PipelineMetrics{
		service:          service,
		submissionsTotal: submissionsTotal,
		enrichmentsTotal: enrichmentsTotal,
		llmTokensTotal:   llmTokensTotal,
		chatRepliesTotal: chatRepliesTotal,
	}
}

func (m *PipelineMetrics) ObserveSubmission(queued bool) {
	label := "false"
	if queued {
		label = "true"
	}
	m.submissionsTotal.WithLabelValues(m.service, label).Inc()
}

func (m *PipelineMetrics) ObserveEnrichment(outcome, model string, promptTokens, completionTokens int) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.enrichmentsTotal.WithLabelValues(m.service, outcome).Inc()

	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "out", model).Add(float64(completionTokens))
	}
}

// ObserveChat counts a reply; an empty reason means the model answered.
func (m *PipelineMetrics) ObserveChat(fallbackReason string) {
	outcome := "answered"
	if fallbackReason != "" {
		outcome = "fallback_" + fallbackReason
	}
	m.chatRepliesTotal.WithLabelValues(m.service, outcome).Inc()
}
