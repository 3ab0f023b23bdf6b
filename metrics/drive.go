// Package metrics exposes drive activity as prometheus collectors.
package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"iecdrive/iec"
)

const (
	defaultNamespace = "iecdrive"
	subsystemDrive   = "drive"
)

// DriveCollector counts bus traffic of one drive. It satisfies iec.Metrics.
type DriveCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime     time.Time
	bytesSent     uint64
	bytesReceived uint64
	listings      uint64

	opens    *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// DriveSnapshot is a point-in-time view of the counters.
type DriveSnapshot struct {
	Uptime        time.Duration
	BytesSent     uint64
	BytesReceived uint64
	Listings      uint64
	SendBps       float64
	ReceiveBps    float64
}

var _ iec.Metrics = (*DriveCollector)(nil)

// NewDriveCollector creates a collector with its own registry.
func NewDriveCollector(namespace string) *DriveCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	c := &DriveCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDrive,
			Name:      "channel_opens_total",
			Help:      "Channel opens by channel number.",
		}, []string{"channel"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDrive,
			Name:      "failures_total",
			Help:      "Failed requests by error kind.",
		}, []string{"kind"}),
	}
	c.registerMetrics()
	return c
}

// Registry returns the prometheus registry managed by this collector.
func (c *DriveCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *DriveCollector) ChannelOpened(channel int) {
	c.opens.WithLabelValues(strconv.Itoa(channel)).Inc()
}

func (c *DriveCollector) BytesSent(_ int, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesSent += uint64(n)
	c.mu.Unlock()
}

func (c *DriveCollector) BytesReceived(_ int, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesReceived += uint64(n)
	c.mu.Unlock()
}

func (c *DriveCollector) ListingSent() {
	c.mu.Lock()
	c.listings++
	c.mu.Unlock()
}

func (c *DriveCollector) Failed(kind iec.ErrorKind) {
	c.failures.WithLabelValues(kind.String()).Inc()
}

// Snapshot creates a read-only view of the counters.
func (c *DriveCollector) Snapshot() DriveSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *DriveCollector) buildSnapshotLocked(now time.Time) DriveSnapshot {
	uptime := now.Sub(c.startTime)
	return DriveSnapshot{
		Uptime:        uptime,
		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,
		Listings:      c.listings,
		SendBps:       rateFromBytes(c.bytesSent, uptime),
		ReceiveBps:    rateFromBytes(c.bytesReceived, uptime),
	}
}

func (c *DriveCollector) registerMetrics() {
	makeCounter := func(name, help string, valueFn func(DriveSnapshot) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemDrive,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}
	makeGauge := func(name, help string, valueFn func(DriveSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemDrive,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}

	c.registry.MustRegister(c.opens, c.failures)
	c.registry.MustRegister(makeCounter(
		"bytes_sent_total",
		"Bytes sent to the host.",
		func(s DriveSnapshot) float64 { return float64(s.BytesSent) },
	))
	c.registry.MustRegister(makeCounter(
		"bytes_received_total",
		"Bytes received from the host.",
		func(s DriveSnapshot) float64 { return float64(s.BytesReceived) },
	))
	c.registry.MustRegister(makeCounter(
		"listings_total",
		"Directory listings sent.",
		func(s DriveSnapshot) float64 { return float64(s.Listings) },
	))
	c.registry.MustRegister(makeGauge(
		"send_bytes_per_second",
		"Average send rate since start.",
		func(s DriveSnapshot) float64 { return s.SendBps },
	))
	c.registry.MustRegister(makeGauge(
		"uptime_seconds",
		"Seconds since the collector was created.",
		func(s DriveSnapshot) float64 { return s.Uptime.Seconds() },
	))
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
