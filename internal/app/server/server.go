package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/service"
	inthttp "github.com/sifan077/ClickURL/internal/http/handler"
	"github.com/sifan077/ClickURL/internal/http/middleware"
	"go.uber.org/zap"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
	bodyLimit    = 64 * 1024
)

// Dependencies bundles the services and infrastructure required by the HTTP server.
type Dependencies struct {
	Logger    *zap.Logger
	Links     service.LinkService
	Redirects *service.RedirectService
	Media     media.Store
	// HealthChecks are probed by GET /health, keyed by dependency name.
	HealthChecks map[string]inthttp.HealthCheck
	BaseURL      string
	CORSOrigins  []string
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

type route struct {
	method  string
	path    string
	handler fiber.Handler
}

// New creates a new HTTP server instance with the middleware chain and routes.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "ClickURL",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		BodyLimit:             bodyLimit,
		ErrorHandler:          errorHandler,
	})

	app.Use(
		middleware.RequestID(),
		middleware.Metrics(),
		middleware.Logger(deps.Logger.Named("http")),
		middleware.Recovery(deps.Logger),
		middleware.CORS(deps.CORSOrigins...),
	)

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() []route {
	logger := s.deps.Logger

	api := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:      logger.Named("api"),
		LinkService: s.deps.Links,
		BaseURL:     s.deps.BaseURL,
	})
	redirect := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:    logger.Named("redirect"),
		Redirects: s.deps.Redirects,
	})
	mediaHandler := inthttp.NewMediaHandler(s.deps.Media, logger.Named("media"))
	health := inthttp.NewHealthHandler(s.deps.HealthChecks, logger)

	return []route{
		{fiber.MethodGet, "/health", health.Health},

		{fiber.MethodGet, "/r/:code", redirect.Resolve},

		{fiber.MethodPost, "/api/urls", api.CreateLink},
		{fiber.MethodGet, "/api/urls", api.ListLinks},
		{fiber.MethodGet, "/api/urls/:code", api.GetLink},
		{fiber.MethodPatch, "/api/urls/:code", api.UpdateLink},
		{fiber.MethodDelete, "/api/urls/:code", api.DeleteLink},
		{fiber.MethodPost, "/api/urls/:code/activate", api.Activate},
		{fiber.MethodPost, "/api/urls/:code/deactivate", api.Deactivate},
		{fiber.MethodGet, "/api/urls/:code/statistics", api.Statistics},
		{fiber.MethodGet, "/api/urls/:code/qrcode", api.QRCode},
		{fiber.MethodPost, "/api/maintenance/purge-expired", api.PurgeExpired},

		{fiber.MethodGet, "/media/" + media.QRDir + "/:file", mediaHandler.QRCode},
	}
}

func (s *Server) registerRoutes() {
	for _, r := range s.routes() {
		s.app.Add(r.method, r.path, r.handler)
	}
}

// errorHandler renders errors that escaped the handlers, such as unmatched
// routes, in the same JSON shape the handlers use.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
