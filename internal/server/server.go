// Package server exposes the workflow engine over HTTP and gRPC health.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	_ "staffdesk/docs" // swagger docs
	"staffdesk/internal/bootstrap"
	"staffdesk/internal/cache"
	"staffdesk/internal/config"
	"staffdesk/internal/featureflags"
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/notifications"
	"staffdesk/internal/permission"
	"staffdesk/internal/repository"
	"staffdesk/internal/roles"
	"staffdesk/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	grpcServer     *grpc.Server
	health         *health.Server
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	engine         *service.Engine
	notifier       *notifications.Notifier
	featureFlags   *featureflags.Manager
	release        func(context.Context) error
}

// Deps are the collaborators a bootstrap layer has already established.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Policies *permission.Resolver
	Roles    roles.Effector
	// Release frees transports the runtime owns, such as the role effector
	// and the trace exporter. Called last on shutdown.
	Release func(context.Context) error
}

// NewServer initializes the runtime from cfg and builds a Server on it.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, Deps{
		DB:       rt.DB,
		Redis:    rt.Redis,
		Policies: rt.Policies,
		Roles:    rt.Roles,
		Release:  rt.Close,
	})
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Policies == nil {
		return nil, fmt.Errorf("policy table is required")
	}

	flags := featureflags.NewManager(cfg.FeatureFlags)
	notifier := notifications.NewNotifier(deps.Redis)

	engine := service.NewEngine(service.EngineConfig{
		Requests:       repository.NewRequestRepository(deps.DB),
		SideEffects:    repository.NewSideEffectRepository(deps.DB),
		RoleChanges:    repository.NewRoleChangeRepository(deps.DB),
		Policies:       deps.Policies,
		Flags:          flags,
		Dispatcher:     notifier,
		Roles:          deps.Roles,
		Cache:          cache.New(deps.Redis),
		HistoryTTL:     cfg.HistoryCacheTTL,
		AppealCooldown: cfg.AppealCooldown,
	})

	release := deps.Release
	if release == nil {
		release = func(context.Context) error { return nil }
	}

	return &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		health:         health.NewServer(),
		promMiddleware: middleware.InitMetrics("staffdesk-api"),
		engine:         engine,
		notifier:       notifier,
		featureFlags:   flags,
		release:        release,
	}, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Swagger documentation, registered ahead of the authenticated group
	app.Get("/api/swagger/*", swagger.HandlerDefault)

	api := app.Group("/api", middleware.AuthRequired)

	requests := api.Group("/requests")
	requests.Post("/", middleware.RateLimit(s.redis, 5, 10*time.Minute, "submit_request"), s.SubmitRequest)
	// Specific routes before the generic /:id
	requests.Get("/me", s.GetMyRequests)
	requests.Get("/:id/effects", s.GetRequestEffects)
	requests.Post("/:id/accept", s.AcceptRequest)
	requests.Post("/:id/deny", s.DenyRequest)
	requests.Put("/:id/artifact", s.AttachArtifact)
	requests.Get("/:id", s.GetRequest)

	members := api.Group("/members")
	members.Get("/:memberId/requests", s.GetMemberRequests)
	members.Get("/:memberId/subject-requests", s.GetMemberSubjectRequests)
	members.Get("/:memberId/leave", s.GetMemberLeave)
	members.Get("/:memberId/role-changes", s.GetMemberRoleChanges)

	api.Get("/queues/:kind", s.GetQueue)

	admin := api.Group("/admin")
	admin.Delete("/requests/:id", s.PurgeRequest)
	admin.Post("/policies/reload", s.ReloadPolicies)
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Post("/promotions", middleware.RateLimit(s.redis, 10, time.Minute, "promotion"), s.PromoteMember)
	admin.Post("/roles", middleware.RateLimit(s.redis, 30, time.Minute, "role_change"), s.ChangeMemberRole)
}

// LivenessCheck answers liveness checks
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether dependencies are reachable. The gRPC health status
// follows the result.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis carries review artifacts and notices; without it decisions still
	// commit but every dispatch is recorded as failed.
	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	} else if redisStatus != "healthy" {
		overall = "degraded"
	}
	s.setServing(status == fiber.StatusOK)

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the HTTP and gRPC listeners and the artifact subscriber.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "staffdesk",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, models.NewValidationError(fe.Message))
			}
			middleware.Ctx(c.UserContext()).Error().Err(err).Msg("unhandled error")
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if s.redis != nil {
		go func() {
			start := func(ctx context.Context) error {
				return s.notifier.StartArtifactSubscriber(ctx, s.onArtifactAck)
			}
			if err := runArtifactSubscriber(s.shutdownCtx, start, time.Second); err != nil {
				middleware.Logger.Info().Err(err).Msg("artifact subscriber stopped before subscribing")
			}
		}()
	}

	lis, err := net.Listen("tcp", ":"+s.config.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.newGRPCServer()
	go func() {
		if err := s.serveGRPC(lis); err != nil {
			middleware.Logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	middleware.Logger.Info().Str("port", s.config.Port).Str("grpc_port", s.config.GRPCPort).Msg("server starting")
	return app.Listen(":" + s.config.Port)
}

func (s *Server) onArtifactAck(ctx context.Context, ack notifications.ArtifactAck) error {
	_, err := s.engine.AttachArtifact(ctx, ack.RequestID, ack.ChannelID, ack.MessageID)
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	s.setServing(false)

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error().Err(err).Msg("error shutting down HTTP server")
		}
	}
	s.stopGRPC()
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error().Err(cerr).Msg("error closing sql DB")
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error().Err(rerr).Msg("error closing redis")
		}
	}

	if err := s.release(ctx); err != nil {
		middleware.Logger.Error().Err(err).Msg("error releasing runtime")
	}

	middleware.Logger.Info().Msg("server shutdown complete")
	return nil
}
