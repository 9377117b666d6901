package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/admission"
	"github.com/go-pluto/gallery/coordinator"
	"github.com/go-pluto/gallery/storage"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Structs

// Server serves the local HTTP API of one peer.
type Server struct {
	logger log.Logger
	svc    coordinator.Service
	hub    *Hub
	router *mux.Router
	http   *http.Server
}

// Constants

// MaxUploadSize bounds the body of a file upload.
const MaxUploadSize = 32 << 20

// Functions

// NewServer routes the API of svc. Notifications reach
// websocket subscribers only if hub is also handed to
// the coordinator as its notifier.
func NewServer(logger log.Logger, svc coordinator.Service, hub *Hub) *Server {

	s := &Server{
		logger: log.With(logger, "component", "api"),
		svc:    svc,
		hub:    hub,
		router: mux.NewRouter(),
	}

	s.router.Use(LoggingMiddleware(s.logger))

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/space", s.handleCreateSpace).Methods(http.MethodPost)
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}", s.handleGetFile).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}", s.handlePutFile).Methods(http.MethodPut)
	api.HandleFunc("/invites", s.handleCreateInvite).Methods(http.MethodPost)
	api.HandleFunc("/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/join/retry", s.handleRetryJoin).Methods(http.MethodPost)
	api.HandleFunc("/join", s.handleCancelJoin).Methods(http.MethodDelete)

	if hub != nil {
		api.Handle("/events", hub).Methods(http.MethodGet)
	}

	return s
}

// ServeHTTP makes the server usable as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve answers requests arriving on l until
// Shutdown is called.
func (s *Server) Serve(l net.Listener) error {

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	level.Info(s.logger).Log("msg", "serving api", "addr", l.Addr())

	err := s.http.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

// Shutdown stops accepting requests and disconnects
// subscribers.
func (s *Server) Shutdown(ctx context.Context) error {

	if s.hub != nil {
		s.hub.Close()
	}

	if s.http == nil {
		return nil
	}

	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatus(s.svc.Status()))
}

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {

	root, err := s.svc.CreateSpace(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rootBody{Root: string(root)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {

	entries, err := s.svc.ListFiles(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFiles(entries))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {

	name := mux.Vars(r)["name"]

	entries, err := s.svc.ListFiles(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	for _, e := range entries {

		if e.Filename != name {
			continue
		}

		blob, err := s.svc.GetBlob(r.Context(), e.Ref)
		if err != nil {
			s.writeError(w, err)
			return
		}

		ctype := mime.TypeByExtension(filepath.Ext(name))
		if ctype == "" {
			ctype = "application/octet-stream"
		}

		w.Header().Set("Content-Type", ctype)
		w.Header().Set("ETag", `"`+e.Ref+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(blob)

		return
	}

	writeJSON(w, http.StatusNotFound, errorBody{Error: "file '" + name + "' not found"})
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {

	name := mux.Vars(r)["name"]

	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
		return
	}

	entry, err := s.svc.PutFile(r.Context(), name, blob)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFile(entry))
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {

	token, err := s.svc.CreateInvite(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenBody{Token: token})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {

	var body tokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected a JSON body with an invite token"})
		return
	}

	if err := s.svc.JoinSpace(r.Context(), body.Token); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatus(s.svc.Status()))
}

func (s *Server) handleRetryJoin(w http.ResponseWriter, r *http.Request) {

	if err := s.svc.RetryJoin(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatus(s.svc.Status()))
}

func (s *Server) handleCancelJoin(w http.ResponseWriter, r *http.Request) {

	if err := s.svc.CancelJoin(); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError answers with the status code err maps to.
func (s *Server) writeError(w http.ResponseWriter, err error) {

	code := statusCode(err)
	if code == http.StatusInternalServerError {
		level.Error(s.logger).Log("msg", "request failed", "err", err)
	}

	writeJSON(w, code, errorBody{Error: err.Error()})
}

func statusCode(err error) int {

	var unsupported *coordinator.UnsupportedFileError
	var joining *admission.AlreadyJoiningError

	switch {
	case coordinator.IsDuplicateFilename(err):
		return http.StatusConflict
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &joining):
		return http.StatusConflict
	case admission.IsJoinTimeout(err):
		return http.StatusGatewayTimeout
	case admission.IsVerification(err):
		return http.StatusForbidden
	case errors.Is(err, admission.ErrInviteUnavailable):
		return http.StatusGone
	case errors.Is(err, admission.ErrInvalidToken),
		errors.Is(err, coordinator.ErrNoFilename),
		errors.Is(err, coordinator.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotWritable):
		return http.StatusForbidden
	case errors.Is(err, coordinator.ErrNoSpace),
		errors.Is(err, coordinator.ErrAlreadyMember),
		errors.Is(err, coordinator.ErrNoJoin):
		return http.StatusPreconditionFailed
	case errors.Is(err, coordinator.ErrNoPeers):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
