// Package middleware provides authentication, logging, metrics and rate limiting for the HTTP surface.
package middleware

import (
	"context"
	"strings"
	"time"

	"staffdesk/internal/config"
	"staffdesk/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// Claims is the token issued by the chat gateway on behalf of a member.
// Subject carries the member id; Roles carries the member's role ids.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// IssueToken signs a member token. Used by the gateway adapter and tooling.
func IssueToken(c *config.Config, memberID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			Issuer:    c.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if c.JWTAudience != "" {
		claims.Audience = jwt.ClaimStrings{c.JWTAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.JWTSecret))
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// On success it stores the member id under "userID" and the role ids under "roles".
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.JWTAudience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(parts[1], &claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return unauthorized(c, "Invalid or expired token")
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return unauthorized(c, "Invalid token structure - missing subject")
	}
	if err := validation.ValidateMemberID(sub); err != nil {
		return unauthorized(c, "Invalid member ID in token")
	}

	roles := make([]string, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	c.Locals("userID", sub)
	c.Locals("roles", roles)
	// Sync to UserContext for logging and downstream services
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, sub))

	return c.Next()
}

// Actor returns the authenticated member id and role ids stored by AuthRequired.
func Actor(c *fiber.Ctx) (string, []string, bool) {
	id, ok := c.Locals("userID").(string)
	if !ok || id == "" {
		return "", nil, false
	}
	roles, _ := c.Locals("roles").([]string)
	return id, roles, true
}
