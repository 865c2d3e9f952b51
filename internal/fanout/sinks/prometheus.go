package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
	"github.com/JakeFAU/engagement-tracker/internal/fanout"
)

// PrometheusSink exports engagement metrics derived from the event stream.
type PrometheusSink struct {
	events         *prometheus.CounterVec
	milestones     *prometheus.CounterVec
	readingSeconds *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_events_total",
			Help: "Tracking calls fanned out, partitioned by command and name.",
		}, []string{"command", "name"}),
		milestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_scroll_milestones_total",
			Help: "Scroll-depth milestones reached, partitioned by threshold.",
		}, []string{"threshold"}),
		readingSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engagement_reading_seconds",
			Help:    "Active reading time per report.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"final"}),
	}
	for _, collector := range []prometheus.Collector{s.events, s.milestones, s.readingSeconds} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register engagement collector: %w", err)
		}
	}
	return s, nil
}

// Name implements fanout.Named.
func (s *PrometheusSink) Name() string { return "prometheus" }

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []fanout.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(evt.Command, evt.Name).Inc()
		if dispatcher.Command(evt.Command) != dispatcher.CommandEvent {
			continue
		}
		switch evt.Name {
		case dispatcher.EventScrollDepth:
			if depth, ok := toFloat(evt.Params["value"]); ok {
				s.milestones.WithLabelValues(strconv.Itoa(int(depth))).Inc()
			}
		case dispatcher.EventReadingTime:
			seconds, ok := toFloat(evt.Params["value"])
			if !ok {
				continue
			}
			final := false
			if custom, ok := evt.Params["custom_parameters"].(map[string]any); ok {
				final, _ = custom["final"].(bool)
			}
			s.readingSeconds.WithLabelValues(strconv.FormatBool(final)).Observe(seconds)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// toFloat accepts the numeric shapes params take in-process and after a JSON
// round trip.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
