// Package monitoring is the process-wide, fire-and-forget publisher the
// rest of the pipeline calls into: lost-datagram and ignored-datagram
// counters, buffer fill and corner-turn duration gauges. Points are
// exported as Prometheus metrics and published as InfluxDB line-protocol
// over NATS via a staging channel: one goroutine draining a buffered
// channel with a select on ctx.Done.
package monitoring

import (
	"context"
	"strconv"
	"sync"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/natsconn"
)

// point is one fire-and-forget measurement queued for the staging
// goroutine.
type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
	at          time.Time
}

// Monitor is the process-wide singleton other components publish to.
type Monitor struct {
	mu sync.Mutex

	subject string
	client  *natsconn.Client

	queue chan point

	lostDatagrams    *prometheus.CounterVec
	ignoredDatagrams *prometheus.CounterVec
	flaggedAntennas  *prometheus.CounterVec
	bufferFill       *prometheus.GaugeVec
	cornerTurn       *prometheus.HistogramVec
}

// New constructs a Monitor that publishes line-protocol points on
// subject over client, and registers its Prometheus collectors on reg.
func New(client *natsconn.Client, subject string, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		client:  client,
		subject: subject,
		queue:   make(chan point, 4096),

		lostDatagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_lost_datagrams_total",
			Help: "Datagrams dropped because the receive buffer was full.",
		}, []string{"rank"}),
		ignoredDatagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_ignored_datagrams_total",
			Help: "Datagrams that could not be mapped to a row (unknown product, duplicate, stale).",
		}, []string{"rank", "reason"}),
		flaggedAntennas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_flagged_antenna_cycles_total",
			Help: "Antenna-cycles flagged by policy tasks.",
		}, []string{"rank", "task"}),
		bufferFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestd_vissource_buffer_fill",
			Help: "Current occupancy of the datagram circular buffer.",
		}, []string{"rank"}),
		cornerTurn: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestd_corner_turn_seconds",
			Help:    "Wall time spent inside a collective redistribution task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"rank", "task"}),
	}

	if reg != nil {
		reg.MustRegister(m.lostDatagrams, m.ignoredDatagrams, m.flaggedAntennas, m.bufferFill, m.cornerTurn)
	}

	return m
}

// Run drains the staging queue until ctx is cancelled, publishing each
// point as line protocol. Intended to be started once per process as its
// own goroutine.
func (m *Monitor) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-m.queue:
			if m.client == nil {
				continue
			}
			encoded, err := encodeLineProtocol(p)
			if err != nil {
				ccalog.Warnf("monitoring: encode point %q: %v", p.measurement, err)
				continue
			}
			if err := m.client.Publish(m.subject, encoded); err != nil {
				ccalog.Warnf("monitoring: publish point %q: %v", p.measurement, err)
			}
		}
	}
}

func encodeLineProtocol(p point) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine(p.measurement)

	for k, v := range p.tags {
		enc.AddTag(k, v)
	}
	for k, v := range p.fields {
		switch val := v.(type) {
		case int64:
			enc.AddField(k, influx.IntValue(val))
		case float64:
			enc.AddField(k, influx.FloatValue(val))
		case bool:
			enc.AddField(k, influx.BoolValue(val))
		case string:
			enc.AddField(k, influx.StringValue(val))
		}
	}
	enc.EndLine(p.at)
	return enc.Bytes(), enc.Err()
}

func (m *Monitor) enqueue(p point) {
	select {
	case m.queue <- p:
	default:
		ccalog.Warnf("monitoring: staging queue full, dropping point %q", p.measurement)
	}
}

// LostDatagram increments the lost-datagram counter for rank and queues a
// line-protocol point.
func (m *Monitor) LostDatagram(rank int) {
	m.lostDatagrams.WithLabelValues(rankLabel(rank)).Inc()
	m.enqueue(point{
		measurement: "lost_datagram",
		tags:        map[string]string{"rank": rankLabel(rank)},
		fields:      map[string]interface{}{"count": int64(1)},
		at:          time.Now(),
	})
}

// IgnoredDatagram increments the ignored-datagram counter for rank,
// tagged with a short reason (e.g. "unknown_product", "duplicate").
func (m *Monitor) IgnoredDatagram(rank int, reason string) {
	m.ignoredDatagrams.WithLabelValues(rankLabel(rank), reason).Inc()
}

// FlaggedAntennas increments the flagged-antenna-cycle counter by n for
// the named task.
func (m *Monitor) FlaggedAntennas(rank int, task string, n int) {
	if n <= 0 {
		return
	}
	m.flaggedAntennas.WithLabelValues(rankLabel(rank), task).Add(float64(n))
}

// BufferFill reports the current occupancy of the datagram circular
// buffer as a gauge.
func (m *Monitor) BufferFill(rank int, size, capacity int) {
	m.bufferFill.WithLabelValues(rankLabel(rank)).Set(float64(size))
	m.enqueue(point{
		measurement: "vissource_buffer",
		tags:        map[string]string{"rank": rankLabel(rank)},
		fields:      map[string]interface{}{"size": int64(size), "capacity": int64(capacity)},
		at:          time.Now(),
	})
}

// CornerTurn records the wall time spent inside a redistribution task.
func (m *Monitor) CornerTurn(rank int, task string, d time.Duration) {
	m.cornerTurn.WithLabelValues(rankLabel(rank), task).Observe(d.Seconds())
}

func rankLabel(rank int) string {
	if rank < 0 {
		return "rank-service"
	}
	return "rank" + strconv.Itoa(rank)
}
