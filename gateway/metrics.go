package gateway

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a request is answered by the gateway instead of the upstream.
const (
	BlockMethod       = "method"
	BlockCSRF         = "csrf"
	BlockUnauthorized = "unauthorized"
	BlockAutoLogin    = "auto_login"
	BlockHTTPS        = "https_redirect"
	BlockBodyTooLarge = "body_too_large"
)

// Metrics are the gateway's Prometheus collectors. They are registered on
// a dedicated registry served on the management listener.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	blocked        *prometheus.CounterVec
	TokenHits      prometheus.Counter
	TokenMisses    prometheus.Counter
	rotations      *prometheus.CounterVec
	SessionRevoked prometheus.Counter
	logins         *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by route and status",
		}, []string{"route", "status"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_blocked_total",
			Help:      "Requests stopped by the pipeline, by reason",
		}, []string{"reason"}),
		TokenHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_hits_total",
			Help:      "Downstream tokens served from cache",
		}),
		TokenMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_misses_total",
			Help:      "Downstream tokens that had to be signed",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Signing key rotations by result",
		}, []string{"result"}),
		SessionRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions added to the blacklist",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Completed login callbacks by provider and result",
		}, []string{"provider", "result"}),
	}
	m.registry.MustRegister(m.requests, m.blocked, m.TokenHits, m.TokenMisses, m.rotations, m.SessionRevoked, m.logins)
	return m
}

// ObserveRequest counts a proxied request.
func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Blocked counts a request the pipeline answered itself.
func (m *Metrics) Blocked(reason string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(reason).Inc()
}

// ObserveRotation is a keymgmt rotation observer.
func (m *Metrics) ObserveRotation(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) login(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.logins.WithLabelValues(provider, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
