package middleware

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Logger is the global structured logger instance used throughout the application.
var Logger zerolog.Logger

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TraceIDKey   contextKey = "trace_id"
)

// ctxHook copies request-scoped values from the event context onto the event.
type ctxHook struct{}

func (ctxHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}
	if rid, ok := ctx.Value(RequestIDKey).(string); ok {
		e.Str("request_id", rid)
	}
	if uid, ok := ctx.Value(UserIDKey).(string); ok {
		e.Str("user_id", uid)
	}
	if tid, ok := ctx.Value(TraceIDKey).(string); ok {
		e.Str("trace_id", tid)
	}
}

func init() {
	Logger = newLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
}

func newLogger(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if env == "production" || env == "prod" {
		base = zerolog.New(os.Stdout)
	} else {
		// Human-readable output for local development
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return base.Level(lvl).With().Timestamp().Logger().Hook(ctxHook{})
}

// ConfigureLogger rebuilds the global logger once configuration is loaded.
func ConfigureLogger(env, level string) {
	Logger = newLogger(env, level)
}

// Ctx returns the global logger bound to ctx so request-scoped fields are attached.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger.With().Ctx(ctx).Logger()
	return &l
}

// ContextMiddleware injects request ID, user ID and trace ID from Fiber locals into the request context.
// This allows these values to be picked up by the logger even in deep service layers.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, RequestIDKey, rid)
		}
		if uid, ok := c.Locals("userID").(string); ok {
			ctx = context.WithValue(ctx, UserIDKey, uid)
		}
		if tid, ok := c.Locals("traceID").(string); ok {
			ctx = context.WithValue(ctx, TraceIDKey, tid)
		}

		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger returns a Fiber middleware for logging requests using zerolog.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		var evt *zerolog.Event
		if err != nil {
			evt = Logger.Error().Err(err)
		} else {
			evt = Logger.Info()
		}

		evt.Ctx(c.UserContext()).
			Int("status", c.Response().StatusCode()).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Dur("latency", time.Since(start)).
			Str("user_agent", c.Get("User-Agent"))

		if err != nil {
			evt.Msg("request failed")
		} else {
			evt.Msg("request processed")
		}

		return err
	}
}
