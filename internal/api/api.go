// Package api implements the HTTP surface every deployment exposes
// regardless of which worker roles are running alongside it: the track
// client ingest endpoint, the dashboard websocket, a health check, and
// Prometheus metrics.
package api

import (
	"net/http"
	"sync"

	"github.com/bmxtiming/p3server/internal/ingest"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Api holds the dependencies the HTTP handlers need and mounts them onto a
// mux.Router, following the donor's RestApi/MountRoutes shape.
type Api struct {
	JS       jetstream.JetStream
	Publisher *ingest.Publisher

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	// RatePerSecond/RateBurst configure the per-track_id token bucket applied
	// to /ingest/batch; zero RatePerSecond disables limiting.
	RatePerSecond float64
	RateBurst     int
}

// New returns an Api ready to have its routes mounted.
func New(js jetstream.JetStream, publisher *ingest.Publisher, ratePerSecond float64, rateBurst int) *Api {
	return &Api{
		JS:            js,
		Publisher:     publisher,
		limiters:      make(map[string]*rate.Limiter),
		RatePerSecond: ratePerSecond,
		RateBurst:     rateBurst,
	}
}

// MountRoutes registers every handler onto r.
func (a *Api) MountRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ingest/batch", a.ingestBatch).Methods(http.MethodPost)
	r.HandleFunc("/ws", a.wsHandler).Methods(http.MethodGet)
}

func (a *Api) healthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("ok"))
}

// limiterFor returns the token-bucket limiter for clientID, creating one on
// first sight. ingestBatch passes the request's track_id as clientID, so
// every client of one track shares a bucket. A zero RatePerSecond disables the feature entirely (nil
// limiter, callers skip the Allow check).
func (a *Api) limiterFor(clientID string) *rate.Limiter {
	if a.RatePerSecond <= 0 {
		return nil
	}

	a.limitersMu.Lock()
	defer a.limitersMu.Unlock()

	l, ok := a.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(a.RatePerSecond), a.RateBurst)
		a.limiters[clientID] = l
	}
	return l
}
