// Package ops exposes a read-only operations API over the player, guild
// and story data, plus health probes.
package ops

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/q-forge/questbot/internal/health"
	"github.com/q-forge/questbot/internal/requestid"
	"github.com/q-forge/questbot/internal/store"
)

// ServerConfig holds configuration for the ops API server.
type ServerConfig struct {
	ListenAddr  string
	APIKey      string
	CORSOrigins string
}

// ProblemDetail is the error body for all non-2xx responses.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// Server is the ops API Fiber application.
type Server struct {
	app     *fiber.App
	store   *store.Store
	checker *health.Checker
	logger  zerolog.Logger
	config  ServerConfig
}

// NewServer creates and configures the ops API server.
func NewServer(cfg ServerConfig, s *store.Store, checker *health.Checker, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	srv := &Server{
		app:     app,
		store:   s,
		checker: checker,
		logger:  logger.With().Str("component", "ops_server").Logger(),
		config:  cfg,
	}

	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	s.app.Use(func(c *fiber.Ctx) error {
		reqID := requestid.New("ops")
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, OPTIONS",
		}))
	}

	s.app.Use(s.authMiddleware())
}

// authMiddleware validates the Bearer API key on everything except probes.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.config.APIKey == "" {
			return c.Next()
		}
		path := c.Path()
		if path == "/healthz" || path == "/readyz" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problem(c, fiber.StatusUnauthorized, "missing_auth", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		if strings.TrimPrefix(authHeader, "Bearer ") != s.config.APIKey {
			s.logger.Warn().Str("path", path).Str("ip", c.IP()).Msg("unauthorized request")
			return problem(c, fiber.StatusUnauthorized, "invalid_api_key", "Unauthorized", "Invalid API key")
		}
		return c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)

	v1 := s.app.Group("/api/v1")
	v1.Get("/players", s.listPlayers)
	v1.Get("/players/:key", s.getPlayer)
	v1.Get("/players/:key/stories", s.getPlayerStories)
	v1.Get("/guilds", s.listGuilds)
	v1.Get("/guilds/:name", s.getGuild)
	v1.Get("/leaderboard", s.leaderboard)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("ops API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("ops API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func problem(c *fiber.Ctx, status int, typ, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{Type: typ, Title: title, Detail: detail, Status: status})
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		logger.Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("unhandled error")

		detail := "An internal error occurred"
		if code != fiber.StatusInternalServerError {
			detail = err.Error()
		}
		return c.Status(code).JSON(ProblemDetail{Type: "internal_error", Title: "Error", Detail: detail, Status: code})
	}
}
