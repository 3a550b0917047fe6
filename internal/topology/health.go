package topology

import (
	"context"
	"log"
	"sync"
	"time"
)

// HostStatus is the health verdict for one shard manager.
type HostStatus string

const (
	StatusUnknown   HostStatus = "unknown"
	StatusHealthy   HostStatus = "healthy"
	StatusUnhealthy HostStatus = "unhealthy"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 2 * time.Second

// HostHealth tracks probe results for one configured host.
type HostHealth struct {
	Host             string
	Status           HostStatus
	LastCheck        time.Time
	LastHealthy      time.Time
	Latency          time.Duration // of the last successful probe
	LastErr          error
	ConsecutiveFails int
}

// HealthMonitor probes every configured shard manager with a cheap read.
// Probes bypass the retry layer: one failed call counts as one failure, and
// a host is unhealthy after maxFailures in a row.
type HealthMonitor struct {
	client      *Client
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	onUnhealthy func(host string)

	mu    sync.RWMutex
	hosts map[string]*HostHealth
}

// NewHealthMonitor returns a monitor over the hosts of c. A maxFailures
// below one is treated as one.
func NewHealthMonitor(c *Client, interval time.Duration, maxFailures int) *HealthMonitor {
	if maxFailures < 1 {
		maxFailures = 1
	}
	h := &HealthMonitor{
		client:      c,
		interval:    interval,
		timeout:     DefaultProbeTimeout,
		maxFailures: maxFailures,
		hosts:       make(map[string]*HostHealth, len(c.hosts)),
	}
	now := time.Now()
	for _, host := range c.hosts {
		h.hosts[host] = &HostHealth{Host: host, Status: StatusUnknown, LastHealthy: now}
	}
	return h
}

// SetOnUnhealthy registers a callback run when a host turns unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(fn func(host string)) {
	h.onUnhealthy = fn
}

// SetProbeTimeout overrides DefaultProbeTimeout.
func (h *HealthMonitor) SetProbeTimeout(d time.Duration) {
	h.timeout = d
}

// Run probes all hosts immediately and then on every interval until ctx is
// done.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("health monitor started with interval %v", h.interval)
	h.CheckOnce(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckOnce(ctx)
		case <-ctx.Done():
			log.Println("health monitor stopped")
			return
		}
	}
}

// CheckOnce probes every host in order and returns the updated states.
func (h *HealthMonitor) CheckOnce(ctx context.Context) []HostHealth {
	for i, host := range h.client.hosts {
		h.probe(ctx, host, i)
	}
	return h.All()
}

func (h *HealthMonitor) probe(ctx context.Context, host string, i int) {
	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	_, err := h.client.direct[i].ListHostnames(pctx)
	elapsed := time.Since(start)

	h.mu.Lock()
	defer h.mu.Unlock()
	hh := h.hosts[host]
	hh.LastCheck = time.Now()

	if err != nil {
		hh.ConsecutiveFails++
		hh.LastErr = err
		log.Printf("health check failed for %s (attempt %d/%d): %v", host, hh.ConsecutiveFails, h.maxFailures, err)
		if hh.ConsecutiveFails >= h.maxFailures && hh.Status != StatusUnhealthy {
			hh.Status = StatusUnhealthy
			log.Printf("%s marked unhealthy after %d failures", host, hh.ConsecutiveFails)
			if h.onUnhealthy != nil {
				go h.onUnhealthy(host)
			}
		}
		return
	}

	if hh.Status == StatusUnhealthy {
		log.Printf("%s recovered", host)
	}
	hh.Status = StatusHealthy
	hh.ConsecutiveFails = 0
	hh.LastErr = nil
	hh.LastHealthy = hh.LastCheck
	hh.Latency = elapsed
}

// Health returns a copy of the state of host, or nil for an unknown host.
func (h *HealthMonitor) Health(host string) *HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hh, ok := h.hosts[host]
	if !ok {
		return nil
	}
	c := *hh
	return &c
}

// All returns the state of every host in configuration order.
func (h *HealthMonitor) All() []HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HostHealth, 0, len(h.client.hosts))
	for _, host := range h.client.hosts {
		out = append(out, *h.hosts[host])
	}
	return out
}
