package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/api/handlers"
	"github.com/virtual-therapist/backend/internal/metrics"
	authmw "github.com/virtual-therapist/backend/internal/middleware/auth"
	"github.com/virtual-therapist/backend/internal/middleware/ratelimit"
	"github.com/virtual-therapist/backend/internal/middleware/security"
	"github.com/virtual-therapist/backend/internal/middleware/validation"
	"github.com/virtual-therapist/backend/pkg/logger"
)

type Config struct {
	AllowedOrigins []string
	IsDevelopment  bool
	BodyLimit      int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxTextLength  int
	StaticDir      string
	AccessLog      bool
}

type AuthService interface {
	handlers.AuthService
	authmw.TokenValidator
}

type Deps struct {
	Analysis    handlers.AnalysisService
	Patients    handlers.PatientStore
	Auth        AuthService
	RateLimiter *ratelimit.RateLimiter
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func() error
}

// NewApp builds the HTTP gateway with every route and middleware mounted.
func NewApp(cfg Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	analyzeHandler := handlers.NewAnalyzeHandler(deps.Analysis)
	patientHandler := handlers.NewPatientHandler(deps.Patients, deps.Analysis)
	authHandler := handlers.NewAuthHandler(deps.Auth)
	wsHandler := handlers.NewWebSocketHandler(deps.Analysis)

	validate := validation.Middleware(validation.Config{
		MaxTextLength: cfg.MaxTextLength,
		Logger:        logger.GetLogger(),
	})
	limit := func(c *fiber.Ctx) error { return c.Next() }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Middleware()
	}
	requireAuth := authmw.Middleware(deps.Auth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				logger.Warn("Readiness check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
			}
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api")

	api.Post("/analyze", limit, validate, analyzeHandler.HandleAnalyze)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", limit, authHandler.Register)
	authRoutes.Post("/login", limit, authHandler.Login)
	authRoutes.Get("/me", requireAuth, authHandler.Me)

	patients := api.Group("/patients", requireAuth)
	patients.Post("/", patientHandler.CreatePatient)
	patients.Get("/", patientHandler.ListPatients)
	patients.Get("/:id", patientHandler.GetPatient)
	patients.Delete("/:id", patientHandler.DeletePatient)
	patients.Post("/:id/analyze", limit, validate, patientHandler.AnalyzePatient)

	app.Get("/ws/analyze", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	return app
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}

	if len(origins) == 0 {
		cfg.AllowOrigins = "*"
		return cfg
	}

	cfg.AllowOrigins = strings.Join(origins, ",")
	cfg.AllowCredentials = true
	return cfg
}

// errorHandler keeps the {"error": message} body shape for errors that escape
// the handlers, such as unknown routes or oversized bodies.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		logger.Error("Unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
