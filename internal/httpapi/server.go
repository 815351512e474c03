package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/logging"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

const defaultMaxBody = 1 << 20

type Dependencies struct {
	Logger       *zap.Logger
	Addr         string
	Metrics      *metrics.Metrics
	MaxBodyBytes int64

	Validation  *service.ValidationService
	Heartbeats  *service.HeartbeatService
	Credentials *service.CredentialManager
	Emergency   *service.EmergencyController
	Snapshots   *service.SnapshotBuilder
	Reconciler  *service.SyncReconciler

	// Ready reports backing-store health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer  *http.Server
	logger      *zap.Logger
	validation  *service.ValidationService
	heartbeats  *service.HeartbeatService
	credentials *service.CredentialManager
	emergency   *service.EmergencyController
	snapshots   *service.SnapshotBuilder
	reconciler  *service.SyncReconciler
	ready       func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBody
	}

	s := &Server{
		logger:      d.Logger,
		validation:  d.Validation,
		heartbeats:  d.Heartbeats,
		credentials: d.Credentials,
		emergency:   d.Emergency,
		snapshots:   d.Snapshots,
		reconciler:  d.Reconciler,
		ready:       d.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(d.Logger, next) })
	r.Use(limitBody(d.MaxBodyBytes))

	r.Get("/healthz", s.handleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/facilities/{facilityID}/exit", s.handleExit)
		r.Get("/lockouts/{subjectID}/{facilityID}", s.handleLockout)

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", s.handleIssue)
			r.Get("/expiring", s.handleExpiring)
			r.Put("/{subjectID}/permissions", s.handleUpdatePermissions)
			r.Post("/{subjectID}/suspend", s.handleSuspend)
			r.Post("/{subjectID}/reactivate", s.handleReactivate)
			r.Post("/{subjectID}/qr", s.handleGenerateQR)
		})

		r.Route("/emergency", func(r chi.Router) {
			r.Post("/lockdown", s.handleLockdown)
			r.Post("/unlock", s.handleUnlock)
			r.Post("/capacity-override/{facilityID}", s.handleEnableOverride)
			r.Delete("/capacity-override/{facilityID}", s.handleDisableOverride)
			r.Get("/actions", s.handleRecentActions)
		})

		r.Get("/offline/snapshot", s.handleSnapshot)
		r.Post("/offline/sync", s.handleSync)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) log(r *http.Request) *zap.Logger {
	return logging.From(r.Context(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.log(r).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req types.ValidationRequest
	proto := isProtobuf(r)
	if proto {
		if err := readStruct(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.validation.Validate(r.Context(), req)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}

	status := http.StatusOK
	if resp.Reason == types.ReasonUnknownScanner {
		// Unknown scanners are blocked from the access flow.
		status = http.StatusForbidden
	}
	if proto {
		writeStruct(w, status, resp)
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	proto := isProtobuf(r)
	if proto {
		if err := readStruct(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}
	if req.IP == "" {
		req.IP = r.RemoteAddr
	}

	resp, err := s.heartbeats.Record(r.Context(), req)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	if proto {
		writeStruct(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	facilityID := chi.URLParam(r, "facilityID")
	n, err := s.validation.Exit(r.Context(), facilityID)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facilityId": facilityID, "occupancy": n})
}

func (s *Server) handleLockout(w http.ResponseWriter, r *http.Request) {
	st, err := s.validation.CheckLockout(r.Context(), chi.URLParam(r, "subjectID"), chi.URLParam(r, "facilityID"))
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
