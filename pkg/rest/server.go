// Package rest implements the optional HTTP surface spec.md §6 names as an external
// collaborator interface: health/version probes, Prometheus metrics exposition, a
// conference-request entry point that mirrors the XMPP focus IQ, and an operator
// endpoint for evacuating a bridge's endpoints on demand.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/registry"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp"
)

// XMPPHealth reports whether the primary XMPP connection is alive, so /about/health can
// fold it into its overall verdict without pkg/rest importing mellium's session type.
type XMPPHealth func() bool

// Server holds the HTTP handler dependencies and mounts every route named in spec.md §6.
type Server struct {
	router    *chi.Mux
	bridges   *bridge.Registry
	rooms     *registry.Registry
	xmppAlive XMPPHealth
	version   string
	logger    *logrus.Entry
	metrics   http.Handler
}

// NewServer creates the REST surface with all routes mounted. xmppAlive may be nil, in
// which case /about/health only considers bridge operational state.
func NewServer(bridges *bridge.Registry, rooms *registry.Registry, xmppAlive XMPPHealth, version string, logger *logrus.Entry) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		bridges:   bridges,
		rooms:     rooms,
		xmppAlive: xmppAlive,
		version:   version,
		logger:    logger,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(bridges, rooms))
	s.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi.Mux so the caller can add middleware.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Get("/about/health", s.handleHealth)
	r.Get("/about/version", s.handleVersion)
	r.Handle("/metrics", s.metrics)

	r.Route("/conference-request/v1", func(r chi.Router) {
		r.Post("/", s.handleConferenceRequest)
	})
	r.Get("/move-endpoints", s.handleMoveEndpoints)
}

// handleHealth answers GET /about/health: 200 if at least one bridge is operational and
// the primary XMPP connection is alive (when a health callback is wired), 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.xmppAlive != nil && !s.xmppAlive() {
		writeError(w, http.StatusServiceUnavailable, "xmpp connection not alive")
		return
	}

	anyOperational := false
	for _, b := range s.bridges.Snapshot() {
		if b.Operational {
			anyOperational = true
			break
		}
	}
	if !anyOperational {
		writeError(w, http.StatusServiceUnavailable, "no operational bridge")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "healthy"})
}

// handleVersion answers GET /about/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Version string `json:"version"`
	}{Version: s.version})
}

// handleConferenceRequest answers POST /conference-request/v1: the JSON mirror of the
// focus conference-request IQ, both funnelling through xmpp.HandleConferenceRequest so
// there is exactly one allocation code path (spec.md §9 Open Question #3).
func (s *Server) handleConferenceRequest(w http.ResponseWriter, r *http.Request) {
	var req xmpp.ConferenceRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Room == "" {
		writeError(w, http.StatusBadRequest, "room is required")
		return
	}

	conf, err := xmpp.HandleConferenceRequest(r.Context(), s.rooms, req)
	if err != nil {
		s.logger.WithError(err).WithField("room", req.Room).Error("conference-request: allocation failed")
		writeError(w, http.StatusInternalServerError, "failed to allocate conference")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Room         string `json:"room"`
		Participants int    `json:"participants"`
	}{Room: req.Room, Participants: conf.ParticipantCount()})
}

// handleMoveEndpoints answers GET /move-endpoints?bridge=<id>&room=<room> (room optional):
// an operator action to evacuate a bridge's endpoints through Conference.OnBridgeRemoved.
// This handler is the only caller of OnBridgeRemoved: nothing in cmd/jicofo subscribes to
// the bridge registry's EventRemoved.
func (s *Server) handleMoveEndpoints(w http.ResponseWriter, r *http.Request) {
	bridgeID := bridge.ID(r.URL.Query().Get("bridge"))
	if bridgeID == "" {
		writeError(w, http.StatusBadRequest, "bridge is required")
		return
	}

	rooms := []string{r.URL.Query().Get("room")}
	if rooms[0] == "" {
		rooms = s.rooms.Snapshot()
	}

	moved := 0
	for _, room := range rooms {
		conf, ok := s.rooms.Get(room)
		if !ok {
			continue
		}
		if err := conf.OnBridgeRemoved(r.Context(), bridgeID); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"room": room, "bridge": bridgeID}).Warn("move-endpoints: migration failed")
			continue
		}
		moved++
	}

	writeJSON(w, http.StatusOK, struct {
		Bridge string `json:"bridge"`
		Rooms  int    `json:"rooms_moved"`
	}{Bridge: string(bridgeID), Rooms: moved})
}

// envelope is the standard response wrapper for the REST API.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// maxRequestBodySize bounds JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return "invalid request body"
	}
	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}
