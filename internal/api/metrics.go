package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	outcomeSuccess   = "success"
	outcomeNoCredits = "no_credits"
	outcomeBusy      = "busy"
	outcomeFailed    = "failed"
)

type metrics struct {
	registry          *prometheus.Registry
	generations       *prometheus.CounterVec
	stageFailures     *prometheus.CounterVec
	generationSeconds prometheus.Histogram
	likes             *prometheus.CounterVec
	deletions         prometheus.Counter
	cleanupFailures   prometheus.Counter
}

// newMetrics registers on a private registry so several servers can coexist
// in one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emoji_generations_total",
			Help: "Emoji generation requests by outcome.",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emoji_generation_stage_failures_total",
			Help: "Generation failures by pipeline stage.",
		}, []string{"stage"}),
		generationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emoji_generation_duration_seconds",
			Help:    "Time spent waiting for the image model.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 280},
		}),
		likes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emoji_like_actions_total",
			Help: "Successful like and unlike actions.",
		}, []string{"action"}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emoji_deletions_total",
			Help: "Emojis deleted by their creator.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emoji_storage_cleanup_failures_total",
			Help: "Stored objects that could not be removed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generations,
		m.stageFailures,
		m.generationSeconds,
		m.likes,
		m.deletions,
		m.cleanupFailures,
	)
	return m
}

func (m *metrics) handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
