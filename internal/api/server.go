package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/therapy-core/internal/audit"
	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/dispatch"
	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
	"github.com/nerrad567/therapy-core/internal/infrastructure/logging"
	"github.com/nerrad567/therapy-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceReader reads device records.
type DeviceReader interface {
	List(ctx context.Context) ([]device.Device, error)
	GetByID(ctx context.Context, id int64) (*device.Device, error)
}

// LivenessChecker reports whether a device has an open session.
type LivenessChecker interface {
	IsLive(deviceID int64) bool
}

// PresenceService applies session-channel frames. Implemented by
// presence.Reconciler.
type PresenceService interface {
	Connect(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics)
	Heartbeat(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics)
	Disconnect(ctx context.Context, conn session.Conn, deviceID int64, m device.Metrics)
	SessionClosed(ctx context.Context, conn session.Conn)
}

// PrescriptionService sends and cancels prescriptions. Implemented by
// dispatch.Prescriber.
type PrescriptionService interface {
	Prescribe(ctx context.Context, deviceID int64, rawPatientID, requestMsgID string) (dispatch.Envelope, error)
	Cancel(ctx context.Context, deviceID int64, reason string) (dispatch.Envelope, error)
}

// CommandLister reports the acknowledgement state of recent commands.
// Implemented by dispatch.AckTracker.
type CommandLister interface {
	Commands(deviceID int64) []dispatch.Command
	Pending(deviceID int64) bool
}

// AuditReader lists audit records.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is any dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Devices    DeviceReader
	Sessions   LivenessChecker
	Presence   PresenceService
	Prescriber PrescriptionService
	Commands   CommandLister
	Audit      AuditReader

	// Hub broadcasts presence to viewers. If nil the server creates one.
	Hub *Hub

	// Health is checked by GET /api/v1/health, keyed by component name.
	Health  map[string]HealthChecker
	Version string
}

// Server is the HTTP API and websocket server.
//
// It serves the REST API, the device session channel and the viewer
// broadcast channel. The server is created with New() and started with
// Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	devices    DeviceReader
	sessions   LivenessChecker
	presence   PresenceService
	prescriber PrescriptionService
	commands   CommandLister
	audit      AuditReader
	health     map[string]HealthChecker
	version    string

	hub      *Hub
	server   *http.Server
	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Returns an error if a required dependency is missing.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil || deps.Sessions == nil || deps.Presence == nil {
		return nil, fmt.Errorf("device reader, session registry and presence service are required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		devices:    deps.Devices,
		sessions:   deps.Sessions,
		presence:   deps.Presence,
		prescriber: deps.Prescriber,
		commands:   deps.Commands,
		audit:      deps.Audit,
		health:     deps.Health,
		version:    deps.Version,
		hub:        deps.Hub,
		baseCtx:    context.Background(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Logger)
	}
	return s, nil
}

// Hub returns the viewer broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// ctx bounds the lifetime of session-channel handlers: cancelling it
// closes the viewer hub. Close stops the listener.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(s.baseCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
