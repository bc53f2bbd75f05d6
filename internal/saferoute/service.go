package saferoute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/common"
	"github.com/evanhutnik/saferoute-service/internal/events"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HTTPOptions are the server settings taken from config.
type HTTPOptions struct {
	Port            int
	RequestTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

type Service struct {
	orchestrator *Orchestrator
	opts         HTTPOptions
	echo         *echo.Echo
	closers      []func()

	Logger *zap.SugaredLogger
}

// NewService exposes o over HTTP.
func NewService(o *Orchestrator, opts HTTPOptions, logger *zap.SugaredLogger) *Service {
	s := &Service{orchestrator: o, opts: opts, Logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.Logger.Infow("request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency,
				"requestId", c.Response().Header().Get(echo.HeaderXRequestID))
			return nil
		},
	}))

	e.GET("/health", s.HealthHandler)
	e.POST("/v1/routes", s.RoutesHandler)
	e.POST("/v1/routes/stream", s.StreamHandler)
	s.echo = e
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Service) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Service) Start() error {
	s.echo.Server.ReadTimeout = s.opts.ReadTimeout
	s.echo.Server.WriteTimeout = s.opts.WriteTimeout
	s.echo.Server.IdleTimeout = s.opts.IdleTimeout

	addr := fmt.Sprintf(":%d", s.opts.Port)
	s.Logger.Infow("starting http server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops the server and releases the adapters' resources.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	s.Logger.Infow("shutting down http server")
	err := s.echo.Shutdown(ctx)
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return errors.WithStack(err)
}

func (s *Service) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) RoutesHandler(c echo.Context) error {
	id := requestID(c)
	req, err := s.parseRequest(c)
	if err != nil {
		return s.writeError(c, id, err)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	res, err := s.orchestrator.RunWithID(ctx, id, *req, nil)
	if err != nil {
		return s.writeError(c, id, err)
	}
	return c.JSON(http.StatusOK, NewRouteResponse(res))
}

// StreamHandler runs the pipeline and relays its events as server-sent
// events. Invalid requests are rejected with a plain JSON error before the
// stream starts.
func (s *Service) StreamHandler(c echo.Context) error {
	id := requestID(c)
	req, err := s.parseRequest(c)
	if err != nil {
		return s.writeError(c, id, err)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	q := events.NewQueue()
	go func() {
		defer q.Close()
		_, _ = s.orchestrator.RunWithID(ctx, id, *req, q)
	}()

	s.relay(ctx, w, q, id)
	// stop the pipeline if the client left early
	cancel()
	return nil
}

type flushWriter interface {
	io.Writer
	http.Flusher
}

// relay writes queued events until a terminal one goes out. A terminal
// event that cannot be written is replaced by an INTERNAL error so the
// stream never ends without one.
func (s *Service) relay(ctx context.Context, w flushWriter, q *events.Queue, id string) {
	for {
		e, ok := q.Next(ctx)
		if !ok {
			return
		}
		err := events.WriteSSE(w, e)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil && !events.Terminal(e) {
			s.Logger.Warnw("dropping event", "requestId", id, "type", e.Kind(), "error", err)
			continue
		}
		if err != nil {
			s.Logger.Errorw("terminal event could not be written", "requestId", id, "type", e.Kind(), "error", err)
			fallback := events.Error{Code: common.CodeInternal, Message: "result could not be encoded"}
			if err := events.WriteSSE(w, fallback); err != nil {
				s.Logger.Errorw("failed to write error event", "requestId", id, "error", err)
			}
		}
		w.Flush()
		if events.Terminal(e) {
			return
		}
	}
}

func (s *Service) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(c.Request().Context(), s.opts.RequestTimeout)
	}
	return context.WithCancel(c.Request().Context())
}

func (s *Service) parseRequest(c echo.Context) (*t.RouteRequest, error) {
	var req t.RouteRequest
	if err := c.Bind(&req); err != nil {
		return nil, common.InvalidRequest("request body must be a JSON route request").WithCause(err)
	}
	if err := c.Validate(&req); err != nil {
		return nil, common.InvalidRequest(err.Error())
	}
	if req.Origin.IsZero() {
		return nil, common.InvalidRequest("missing 'origin' in request")
	}
	if req.Destination.IsZero() {
		return nil, common.InvalidRequest("missing 'destination' in request")
	}
	if req.AlertTypeOverride != "" {
		if _, ok := t.ParseAlertType(req.AlertTypeOverride); !ok {
			return nil, common.InvalidRequest(fmt.Sprintf("unknown alertTypeOverride '%v'", req.AlertTypeOverride))
		}
	}
	return &req, nil
}

func (s *Service) writeError(c echo.Context, id string, err error) error {
	ce := common.AsCodeError(err)
	if ce.Code == common.CodeInternal {
		s.Logger.Errorw("internal error", "requestId", id, "error", err)
	}
	return c.JSON(ce.Status, ErrorResponse(id, ce))
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
