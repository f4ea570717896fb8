// Package roles relays role grants and revocations to the chat gateway.
package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"staffdesk/internal/config"

	"github.com/redis/go-redis/v9"
)

// Action is the direction of a role change.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Effect is one role change request as sent on the wire.
type Effect struct {
	MemberID  string    `json:"member_id"`
	RoleID    string    `json:"role_id"`
	Action    Action    `json:"action"`
	RequestID string    `json:"request_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Effector applies role changes. Implementations report delivery failures;
// they never know whether the gateway eventually applied the change.
type Effector interface {
	Grant(ctx context.Context, memberID, roleID string) error
	Revoke(ctx context.Context, memberID, roleID string) error
}

type requestIDKey struct{}

// WithRequestID tags role effects sent under ctx with the originating request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func newEffect(ctx context.Context, memberID, roleID string, action Action) (Effect, error) {
	memberID, roleID = strings.TrimSpace(memberID), strings.TrimSpace(roleID)
	if memberID == "" || roleID == "" {
		return Effect{}, fmt.Errorf("role %s needs a member id and a role id", action)
	}
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return Effect{
		MemberID:  memberID,
		RoleID:    roleID,
		Action:    action,
		RequestID: requestID,
		IssuedAt:  time.Now().UTC(),
	}, nil
}

// New selects the effector named by ROLE_EFFECT_TRANSPORT.
func New(cfg *config.Config, rdb *redis.Client) (Effector, func() error, error) {
	switch cfg.RoleEffectTransport {
	case "kafka":
		w, err := NewKafkaWriter(cfg.Brokers(), cfg.KafkaRoleTopic)
		if err != nil {
			return nil, nil, err
		}
		return NewKafkaEffector(w), w.Close, nil
	case "redis", "":
		return NewRedisEffector(rdb), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ROLE_EFFECT_TRANSPORT %q", cfg.RoleEffectTransport)
	}
}
