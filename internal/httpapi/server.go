package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/portunus-access/internal/observability"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/service"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
)

type Dependencies struct {
	Logger           *logrus.Logger
	Addr             string
	HeartbeatService *service.HeartbeatService
	AccessService    *service.AccessService
	Metrics          *observability.Metrics

	// DeviceRateLimit caps reader requests per client IP per minute.
	// Zero disables the limit.
	DeviceRateLimit int
	// Ready backs /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer       *http.Server
	logger           *logrus.Logger
	router           chi.Router
	validate         *validator.Validate
	heartbeatService *service.HeartbeatService
	accessService    *service.AccessService
	ready            func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}

	s := &Server{
		logger:           d.Logger,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		heartbeatService: d.HeartbeatService,
		accessService:    d.AccessService,
		ready:            d.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(accessLog(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(dev chi.Router) {
			if d.DeviceRateLimit > 0 {
				dev.Use(httprate.Limit(d.DeviceRateLimit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
					}),
				))
			}
			dev.Post("/heartbeat", s.handleHeartbeat)
			dev.Post("/access_request", s.handleAccessRequest)
		})
		v1.Post("/evaluate", s.handleEvaluate)
	})
	s.router = r

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable", "dependency check failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	proto := isProtobuf(r)

	var req types.HeartbeatRequest
	if !s.decode(w, r, proto, &req, func(b []byte) error {
		var err error
		req, err = decodeHeartbeatRequest(b)
		return err
	}) {
		return
	}

	resp, err := s.heartbeatService.Record(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidModuleID) {
			writeError(w, http.StatusBadRequest, "invalid_module_id", err.Error())
			return
		}
		s.logger.WithError(err).Error("heartbeat")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	if proto {
		writeProto(w, http.StatusOK, encodeHeartbeatResponse(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	proto := isProtobuf(r)

	var req types.AccessRequest
	if !s.decode(w, r, proto, &req, func(b []byte) error {
		var err error
		req, err = decodeAccessRequest(b)
		return err
	}) {
		return
	}

	ctx := service.WithClientIP(r.Context(), clientIP(r))
	resp, err := s.accessService.Decide(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidModuleID):
			writeError(w, http.StatusBadRequest, "invalid_module_id", err.Error())
		case errors.Is(err, service.ErrInvalidCardID):
			writeError(w, http.StatusBadRequest, "invalid_card_id", err.Error())
		case errors.Is(err, service.ErrInvalidCredential):
			writeError(w, http.StatusBadRequest, "invalid_credential", err.Error())
		default:
			// The reader treats anything but an explicit grant as a deny.
			s.logger.WithError(err).WithField("module_id", req.ModuleID).Error("access_request")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	status := http.StatusOK
	if !resp.Known {
		// Unknown modules are blocked from the access flow.
		status = http.StatusForbidden
	}
	if proto {
		writeProto(w, status, encodeAccessResponse(resp))
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req types.EvaluateRequest
	if !s.decode(w, r, false, &req, nil) {
		return
	}

	resp, err := s.accessService.Evaluate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCardID),
			errors.Is(err, service.ErrInvalidDoor),
			errors.Is(err, service.ErrInvalidTime):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			s.logger.WithError(err).Error("evaluate")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode fills dst from a JSON body, or via fromProto for protobuf bodies,
// then validates it. It writes the error response and returns false on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, proto bool, dst any, fromProto func([]byte) error) bool {
	if proto {
		body, err := readBody(r)
		if err == nil {
			err = fromProto(body)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return false
		}
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return false
		}
	}

	if err := s.validate.Struct(dst); err != nil {
		code, msg := validationError(err)
		writeError(w, http.StatusBadRequest, code, msg)
		return false
	}
	return true
}

// validationError maps the first failing field to the error code readers
// already understand.
func validationError(err error) (string, string) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid_request", err.Error()
	}
	fe := ve[0]
	switch fe.Field() {
	case "ModuleID":
		return "invalid_module_id", "module_id: failed " + fe.Tag()
	case "CardID", "Bits":
		return "invalid_card_id", "card_id or bits: failed " + fe.Tag()
	default:
		return "invalid_request", fe.Field() + ": failed " + fe.Tag()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
