package nodescan

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultRequestsPerSecond = 20
	requestTimeout           = 30 * time.Second
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	Service           *Service
	Metrics           *Metrics
	Countdown         *Countdown
	Logger            *zap.Logger
	RequestsPerSecond float64
}

type server struct {
	service   *Service
	countdown *Countdown
	log       *zap.Logger
}

// NewServer constructs the HTTP handler serving the NodeScan API.
func NewServer(opts ServerOptions) http.Handler {
	s := &server{
		service:   opts.Service,
		countdown: opts.Countdown,
		log:       componentLogger(opts.Logger, "http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.Handle("/index", http.RedirectHandler("/", http.StatusMovedPermanently)).Methods(http.MethodGet)
	r.HandleFunc("/validator/{votePubkey}", s.handleValidator).Methods(http.MethodGet)
	r.HandleFunc("/api/epoch", s.handleEpoch).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetMessageContentType("application/json; charset=utf-8")
	lmt.SetMessage(`{"error":"too many requests"}`)

	return withResponseMetrics(tollbooth.LimitHandler(lmt, r), opts.Metrics)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>NodeScan</title></head>
<body>
<h1>NodeScan</h1>
<p>Solana validator dashboard.</p>
<form onsubmit="location.href='/validator/'+this.vote.value;return false">
<input name="vote" placeholder="Vote account" size="48">
<button type="submit">Inspect</button>
</form>
{{if .Epoch}}<p>Epoch {{.Epoch.Epoch}}: {{.Countdown}}</p>{{end}}
</body>
</html>
`))

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	data := struct {
		Epoch     *EpochInfo
		Countdown string
	}{}
	if epoch, err := s.service.EpochInfo(ctx); err == nil {
		data.Epoch = &epoch
		data.Countdown = s.countdownLabel(epoch)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.Error("render index", zap.Error(err))
	}
}

func (s *server) handleValidator(w http.ResponseWriter, r *http.Request) {
	vote := mux.Vars(r)["votePubkey"]
	if !ValidateVotePubkey(vote) {
		writeError(w, http.StatusBadRequest, ErrInvalidPubkey)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	dash, err := s.service.Dashboard(ctx, vote)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidPubkey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	epoch, err := s.service.EpochInfo(ctx)
	if err != nil {
		s.log.Warn("epoch unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Epoch     EpochInfo `json:"epoch"`
		Countdown string    `json:"countdown"`
	}{Epoch: epoch, Countdown: s.countdownLabel(epoch)})
}

func (s *server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func (s *server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

// countdownLabel prefers the live countdown once the poller has set it, even
// after it has run down to zero.
func (s *server) countdownLabel(epoch EpochInfo) string {
	if s.countdown != nil && s.countdown.Started() {
		return s.countdown.Label()
	}
	return formatCountdown(epoch.TimeRemainingSeconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
