package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"codelab.org/internal/auth"
	"codelab.org/internal/enrollment"
	"codelab.org/internal/events"
	"codelab.org/internal/obs"
	"codelab.org/internal/payment"
)

const serviceName = "codelab-api"

// Pinger is anything with a liveness round-trip, usually the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// ChargeIntents creates gateway charge intents.
type ChargeIntents interface {
	CreateChargeIntent(ctx context.Context, amount decimal.Decimal) (payment.ChargeIntent, error)
}

// Options wires the API to its collaborators. Stream is optional.
type Options struct {
	Version    string
	Ready      ReadyProbe
	Authority  *auth.Authority
	Enrollment *enrollment.Service
	Catalog    enrollment.Catalog
	Payments   ChargeIntents
	Stream     *events.Stream
	RateBurst  int
	RatePerSec int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authority  *auth.Authority
	gate       *Gate
	enrollment *enrollment.Service
	catalog    enrollment.Catalog
	payments   ChargeIntents
	stream     *events.Stream

	rateBurst  int
	ratePerSec int
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		version:    opts.Version,
		authority:  opts.Authority,
		gate:       NewGate(opts.Authority),
		enrollment: opts.Enrollment,
		catalog:    opts.Catalog,
		payments:   opts.Payments,
		stream:     opts.Stream,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/jwt", a.handleToken)
	a.mux.HandleFunc("/create-payment-intent", a.handleCreatePaymentIntent)
	a.mux.Handle("/payments", a.protected(http.HandlerFunc(a.handlePayments)))
	a.mux.HandleFunc("/payments/enrolled/student", a.handleEnrolledByStudent)
	a.mux.HandleFunc("/classes", a.handleClassesCollection)
	a.mux.HandleFunc("/classes/", a.handleClassResource)
	a.mux.HandleFunc("/events/enrollments", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "code lab server running"})
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

// decodeDocument accepts extra fields: browser clients post whole user and
// payment documents to /jwt and /payments.
func decodeDocument(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
