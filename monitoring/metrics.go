package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"ticket-pass/internal/poller"
)

var (
	passesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_pass_issued_total",
			Help: "Total pass renderings issued",
		},
		[]string{"format"},
	)

	passAccepts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_pass_accept_total",
			Help: "Gate acceptance attempts by result",
		},
		[]string{"result"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_status_transitions_total",
			Help: "Validation status transitions recorded by the gate",
		},
		[]string{"from", "to"},
	)

	statusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_status_poll_total",
			Help: "Status polls by outcome",
		},
		[]string{"outcome"},
	)

	pollInterval = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_status_poll_interval_seconds",
			Help:    "Interval chosen after each status poll",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)

	trackedTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticket_status_tracked",
			Help: "Tickets currently being polled",
		},
	)

	redisUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticket_pass_redis_up",
			Help: "Whether the last redis ping succeeded",
		},
	)
)

type Monitor struct {
	redis   redis.Cmdable
	tracked func() int
}

// NewMonitor starts periodic gauge collection until ctx is done. tracked
// may be nil.
func NewMonitor(ctx context.Context, redisClient redis.Cmdable, tracked func() int) *Monitor {
	monitor := &Monitor{redis: redisClient, tracked: tracked}

	// Start metrics collection
	go monitor.collectMetrics(ctx)

	return monitor
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		m.collect(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	if m.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := m.redis.Ping(pingCtx).Err(); err != nil {
			redisUp.Set(0)
		} else {
			redisUp.Set(1)
		}
		cancel()
	}
	if m.tracked != nil {
		trackedTickets.Set(float64(m.tracked()))
	}
}

// TrackIssued counts one rendering (envelope, qr, barcode).
func (m *Monitor) TrackIssued(format string) {
	passesIssued.WithLabelValues(format).Inc()
}

// TrackAccept counts a gate decision by its reason label.
func (m *Monitor) TrackAccept(result string) {
	passAccepts.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

// TrackPoll records the outcome of one poll and the interval that follows.
func (m *Monitor) TrackPoll(u poller.Update) {
	outcome := string(u.Status)
	switch {
	case u.Err != nil && u.Degraded:
		outcome = "degraded"
	case u.Err != nil:
		outcome = "error"
	}
	statusPolls.WithLabelValues(outcome).Inc()
	pollInterval.Observe(u.Interval.Seconds())
}
