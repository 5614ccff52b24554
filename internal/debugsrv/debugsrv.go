// Package debugsrv exposes a node's debug state over HTTP: its aggregate
// snapshot and state as JSON, and a server-sent-events feed of topology
// changes (children attaching or detaching) for anyone watching the tree
// shape live.
package debugsrv

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"
	"go.skia.org/infra/go/httputils"
	"go.skia.org/infra/go/metrics2"
	"go.skia.org/infra/go/sklog"

	"go.skia.org/snapped/internal/debugger"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 30 * time.Second

	// topologyStreamID is the single r3labs/sse stream this server
	// publishes to; one stream per node is enough since there's exactly
	// one topology to watch.
	topologyStreamID = "topology"
)

// TopologyEvent is one change to a node's child set, published to the SSE
// stream as it happens.
type TopologyEvent struct {
	Kind       string `json:"kind"` // "attached" or "detached"
	ChildID    uint64 `json:"childId"`
	Descriptor string `json:"descriptor"`
}

// Server is the debug HTTP surface for one tree node.
type Server struct {
	router *mux.Router
	node   debugger.Debugger
	sse    *sse.Server

	requests        metrics2.Counter
	requestsSuccess metrics2.Counter
}

// New builds a debug server fronting node. Call PublishTopologyEvent as the
// node's tree membership changes, and ServeHTTP (or http.ListenAndServe
// with Handler) to expose it.
func New(node debugger.Debugger) *Server {
	sseServer := sse.New()
	sseServer.CreateStream(topologyStreamID)

	r := mux.NewRouter()
	s := &Server{
		router: r,
		node:   node,
		sse:    sseServer,

		requests:        metrics2.GetCounter("snapped_debugsrv_requests", nil),
		requestsSuccess: metrics2.GetCounter("snapped_debugsrv_requests_success", nil),
	}

	r.HandleFunc("/state", s.getState).Methods("GET")
	r.HandleFunc("/snapshot", s.getSnapshot).Methods("GET")
	r.HandleFunc("/symbols", s.getSymbols).Methods("GET")
	r.Handle("/events", sseServer)
	r.Use(
		httputils.HealthzAndHTTPS,
		httputils.LoggingGzipRequestResponse,
	)

	return s
}

// Handler returns the http.Handler to serve, with the teacher's
// production read/write timeouts already baked in by the caller via
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ReadTimeout and WriteTimeout are exported for callers constructing an
// http.Server around Handler, matching the teacher's serverReadTimeout /
// serverWriteTimeout constants.
func (s *Server) ReadTimeout() time.Duration  { return serverReadTimeout }
func (s *Server) WriteTimeout() time.Duration { return serverWriteTimeout }

// PublishTopologyEvent broadcasts a child attach/detach to every listener
// on the /events stream.
func (s *Server) PublishTopologyEvent(ev TopologyEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		sklog.Errorf("debugsrv: marshaling topology event: %s", err)
		return
	}
	s.sse.Publish(topologyStreamID, &sse.Event{Data: b})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc(1)
	state, err := s.node.State(r.Context())
	if err != nil {
		httputils.ReportError(w, err, "failed to read state", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, state)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc(1)
	snap, err := s.node.Snapshot(r.Context())
	if err != nil {
		httputils.ReportError(w, err, "failed to read snapshot", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) getSymbols(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc(1)
	table, err := s.node.Symbols(r.Context())
	if err != nil {
		httputils.ReportError(w, err, "failed to read symbols", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, table)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sklog.Errorf("debugsrv: encoding response: %s", err)
		return
	}
	s.requestsSuccess.Inc(1)
}
