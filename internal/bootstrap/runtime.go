// Package bootstrap wires the process-wide dependencies shared by the server
// and the maintenance commands.
package bootstrap

import (
	"context"
	"fmt"

	"staffdesk/internal/cache"
	"staffdesk/internal/config"
	"staffdesk/internal/database"
	"staffdesk/internal/middleware"
	"staffdesk/internal/observability"
	"staffdesk/internal/permission"
	"staffdesk/internal/roles"
	"staffdesk/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema leaves the schema untouched, for commands that manage it.
	SkipSchema bool
}

// Runtime is everything a process needs before it can serve requests.
type Runtime struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Policies *permission.Resolver
	Roles    roles.Effector

	closeRoles      func() error
	shutdownTracing func(context.Context) error
}

// InitRuntime configures logging and tracing, connects to the database and
// Redis, loads the policy table and builds the role effector.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	middleware.ConfigureLogger(cfg.Env, cfg.LogLevel)
	middleware.InitMiddleware(cfg)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "staffdesk-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if !opts.SkipSchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, fmt.Errorf("schema apply failed: %w", err)
		}
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()

	policies, err := permission.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy load failed: %w", err)
	}
	if err := policies.Require(service.RequiredPolicies()...); err != nil {
		return nil, fmt.Errorf("policy table incomplete: %w", err)
	}

	effector, closeRoles, err := roles.New(cfg, rdb)
	if err != nil {
		return nil, fmt.Errorf("role effector init failed: %w", err)
	}

	middleware.Logger.Info().
		Str("env", cfg.Env).
		Str("role_transport", cfg.RoleEffectTransport).
		Bool("redis", rdb != nil).
		Strs("policies", policies.Policies()).
		Msg("runtime initialized")

	return &Runtime{
		DB:              db,
		Redis:           rdb,
		Policies:        policies,
		Roles:           effector,
		closeRoles:      closeRoles,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close releases the role transport and flushes traces. The database and
// Redis clients belong to whoever serves with them.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if r.closeRoles != nil {
		if err := r.closeRoles(); err != nil {
			firstErr = fmt.Errorf("close role effector: %w", err)
		}
	}
	if r.shutdownTracing != nil {
		if err := r.shutdownTracing(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown tracing: %w", err)
		}
	}
	return firstErr
}
