package status

import (
	"context"
	"encoding/json"
	"errors"
	goLog "log"
	"net"
	"net/http"
	"time"

	"gopkg.in/op/go-logging.v1"

	"peerlink/internal/domain"
)

// maxRequestBody bounds POST bodies; a message body plus JSON overhead.
const maxRequestBody = 128 * 1024

// ErrNoSession is reported by Send when the peer has no live session.
var ErrNoSession = errors.New("no live session with peer")

// Summary is the body of GET /api/status.
type Summary struct {
	Identity    domain.PeerIdentity `json:"identity"`
	Fingerprint domain.Fingerprint  `json:"fingerprint"`
	DataAddress string              `json:"data_address"`
	Discovery   bool                `json:"discovery"`
	PeersLive   int                 `json:"peers_live"`
	Sessions    int                 `json:"sessions"`
	StartedAt   time.Time           `json:"started_at"`
}

// Node is what the API exposes.
type Node interface {
	Status() Summary
	Peers() []domain.PeerRecord
	Sessions() []domain.SessionInfo
	Connect(ctx context.Context, addr string) (domain.SessionInfo, error)
	Send(peer domain.PeerIdentity, kind domain.MessageKind, body []byte) (bool, error)
}

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	Address string `json:"address"`
}

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Peer domain.PeerIdentity `json:"peer"`
	Kind domain.MessageKind  `json:"kind"`
	Body string              `json:"body"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server is the status API.
type Server struct {
	node    Node
	metrics http.Handler
	log     *logging.Logger
	timeout time.Duration

	srv *http.Server
	ln  net.Listener
}

// NewServer returns a server for node. metrics may be nil, in which case
// /metrics is not served. connectTimeout bounds POST /api/connect.
func NewServer(node Node, metrics http.Handler, connectTimeout time.Duration, log *logging.Logger) *Server {
	s := &Server{node: node, metrics: metrics, log: log, timeout: connectTimeout}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/send", s.handleSend)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// SetErrorLog routes the HTTP server's own errors (bad TLS handshakes, accept
// failures) to l. Call before Start.
func (s *Server) SetErrorLog(l *goLog.Logger) { s.srv.ErrorLog = l }

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Status API stopped: %v", err)
		}
	}()
	s.log.Noticef("Status API on http://%v", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Peers())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Sessions())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	if _, _, err := net.SplitHostPort(req.Address); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	info, err := s.node.Connect(ctx, req.Address)
	if err != nil {
		s.log.Infof("Connect to %s via API failed: %v", req.Address, err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Peer == "" {
		writeError(w, http.StatusBadRequest, errors.New("peer is required"))
		return
	}
	if req.Kind == "" {
		req.Kind = domain.KindText
	}

	ok, err := s.node.Send(req.Peer, req.Kind, []byte(req.Body))
	switch {
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	case !ok:
		writeError(w, http.StatusNotFound, ErrNoSession)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.log.Debugf("Bad request to %s: %v", r.URL.Path, err)
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}
