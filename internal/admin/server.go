package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"disgb/internal/area"
	"disgb/internal/communicator"
	"disgb/internal/logger"
	"disgb/internal/message"
	"disgb/internal/spatial"
)

// Status is the runtime view served by GET /status
type Status struct {
	BrokerID      string               `json:"brokerId"`
	Running       bool                 `json:"running"`
	StartedAt     time.Time            `json:"startedAt"`
	Listener      string               `json:"listener"`
	Communicators []communicator.Stats `json:"communicators"`
	InFlight      map[string]int64     `json:"inFlight"`
	Breakers      map[string]string    `json:"breakers"`
}

// Backend is what the admin API needs from a running broker
type Backend interface {
	Status() Status
	Areas() *area.Manager
	// SetOwnArea replaces the own area of the broker
	SetOwnArea(a area.BrokerArea) error
	// Publish forwards p to every peer whose area intersects its geofence and returns their ids
	Publish(p message.PublishPayload, publisher *spatial.Location) ([]string, error)
}

// Response is the body of every JSON answer
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AreasView lists the area table in descriptor form
type AreasView struct {
	OwnBrokerID string                 `json:"ownBrokerId"`
	Own         *area.DescriptorEntry  `json:"own"`
	Others      []area.DescriptorEntry `json:"others"`
}

// PublishRequest is the body of POST /publish
type PublishRequest struct {
	Publish           message.PublishPayload `json:"publish"`
	PublisherLocation *spatial.Location      `json:"publisherLocation"`
}

// Server is the HTTP admin API of a broker
type Server struct {
	backend  Backend
	tokens   *TokenService
	address  string
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer builds the router. Mutating endpoints require a token when tokens is not nil.
func NewServer(address string, backend Backend, gatherer prometheus.Gatherer, tokens *TokenService) *Server {
	s := &Server{
		backend: backend,
		tokens:  tokens,
		address: address,
		logger:  logger.GetLogger("admin_api"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/areas", s.handleAreas).Methods("GET")
	router.HandleFunc("/areas/lookup", s.handleLookup).Methods("GET")
	router.Handle("/areas/own", s.protect(http.HandlerFunc(s.handleSetOwnArea))).Methods("PUT")
	router.Handle("/publish", s.protect(http.HandlerFunc(s.handlePublish))).Methods("POST")
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.server = &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.tokens == nil {
		return h
	}
	return s.tokens.RequireScope(ScopeAreas, h)
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Start binds the address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = ln

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Bool("auth", s.tokens != nil).
		Msg("Starting admin API server")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin API server error")
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping admin API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.backend.Status()
	s.sendSuccess(w, "Broker is healthy", map[string]interface{}{
		"status":   "healthy",
		"brokerId": status.BrokerID,
		"running":  status.Running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, "Broker status", s.backend.Status())
}

func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request) {
	manager := s.backend.Areas()

	view := AreasView{
		OwnBrokerID: manager.OwnBrokerID(),
		Others:      make([]area.DescriptorEntry, 0),
	}
	if own, ok := manager.OwnArea(); ok {
		entry := area.EntryFor(own)
		view.Own = &entry
	}
	for _, a := range manager.OtherAreas() {
		view.Others = append(view.Others, area.EntryFor(a))
	}

	s.sendSuccess(w, "Broker areas", view)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Query parameter lat must be a number", nil)
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Query parameter lon must be a number", nil)
		return
	}

	loc := spatial.NewLocation(lat, lon)
	if err := loc.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid location", err)
		return
	}

	manager := s.backend.Areas()
	data := map[string]interface{}{
		"location":    loc,
		"ownContains": manager.OwnContains(loc),
		"found":       false,
	}
	if owner, ok := manager.FindOwnerOfLocation(loc); ok {
		data["found"] = true
		data["owner"] = owner
	}
	s.sendSuccess(w, "Owner lookup", data)
}

func (s *Server) handleSetOwnArea(w http.ResponseWriter, r *http.Request) {
	var entry area.DescriptorEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON format", err)
		return
	}

	brokerArea, err := entry.BrokerArea()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid broker area", err)
		return
	}

	if err := s.backend.SetOwnArea(brokerArea); err != nil {
		s.sendError(w, http.StatusConflict, "Failed to replace own area", err)
		return
	}

	s.logger.Info().
		Str("covered_area", entry.CoveredArea.Text()).
		Msg("Own area replaced through admin API")
	s.sendSuccess(w, "Own area replaced", area.EntryFor(brokerArea))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON format", err)
		return
	}
	if err := req.Publish.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid publish payload", err)
		return
	}
	if req.PublisherLocation == nil {
		s.sendError(w, http.StatusBadRequest, "Publisher location is required", nil)
		return
	}
	if err := req.PublisherLocation.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid publisher location", err)
		return
	}

	targets, err := s.backend.Publish(req.Publish, req.PublisherLocation)
	if err != nil && len(targets) == 0 {
		s.sendError(w, http.StatusServiceUnavailable, "Failed to forward publish", err)
		return
	}

	data := map[string]interface{}{
		"targets": targets,
		"count":   len(targets),
	}
	if err != nil {
		// partially forwarded
		data["errors"] = err.Error()
	}
	s.sendSuccess(w, "Publish forwarded", data)
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	s.send(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := Response{Success: false, Message: message}

	if err != nil {
		response.Error = err.Error()
		s.logger.Error().Err(err).Str("message", message).Msg("API error")
	} else {
		s.logger.Warn().Str("message", message).Msg("API client error")
	}

	s.send(w, statusCode, response)
}

func (s *Server) send(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
