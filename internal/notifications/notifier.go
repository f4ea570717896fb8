// Package notifications delivers review requests, artifact updates and
// outcome notices over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"staffdesk/internal/middleware"
	"staffdesk/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// ArtifactAckChannel carries ArtifactAck messages from the chat gateway.
	ArtifactAckChannel = "staffdesk:artifacts:ack"
	// AnnouncementChannel carries staff announcements to the gateway.
	AnnouncementChannel = "staffdesk:announcements"
)

var errNoClient = errors.New("redis client not configured")

// Notifier publishes workflow events into Redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// ReviewChannel is where reviewers of kind receive new requests.
func ReviewChannel(kind models.Kind) string {
	return "staffdesk:review:" + string(kind)
}

// ArtifactChannel is where the gateway receives edits to posted review artifacts.
func ArtifactChannel(kind models.Kind) string {
	return "staffdesk:artifact:" + string(kind)
}

// UserChannel derives the Redis channel name for a member.
func UserChannel(memberID string) string {
	return "notifications:user:" + memberID
}

func (n *Notifier) publish(ctx context.Context, channel string, v interface{}) error {
	if n.rdb == nil {
		return models.NewDependencyError("notifications", errNoClient)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return models.NewDependencyError("notifications", err)
	}
	return nil
}

// PublishReviewRequest posts a new request to its kind's review channel.
func (n *Notifier) PublishReviewRequest(ctx context.Context, ev ReviewEvent) error {
	return n.publish(ctx, ReviewChannel(ev.Kind), ev)
}

// UpdateReviewArtifact asks the gateway to edit the stored review artifact.
// It fails when no artifact reference was ever recorded for the request.
func (n *Notifier) UpdateReviewArtifact(ctx context.Context, ev OutcomeEvent) error {
	if ev.Artifact == nil {
		return models.NewDependencyError("notifications",
			fmt.Errorf("no review artifact recorded for request %s", ev.RequestID))
	}
	return n.publish(ctx, ArtifactChannel(ev.Kind), ev)
}

// NotifySubmitter sends the outcome to the submitter's personal channel.
func (n *Notifier) NotifySubmitter(ctx context.Context, ev OutcomeEvent) error {
	return n.publish(ctx, UserChannel(ev.SubmitterID), ev)
}

// NotifySubject sends the outcome to the subject's personal channel.
func (n *Notifier) NotifySubject(ctx context.Context, ev OutcomeEvent) error {
	return n.publish(ctx, UserChannel(ev.SubjectID), ev)
}

// Announce posts a staff announcement.
func (n *Notifier) Announce(ctx context.Context, ev AnnouncementEvent) error {
	return n.publish(ctx, AnnouncementChannel, ev)
}

// StartArtifactSubscriber listens on ArtifactAckChannel and calls onAck for
// each well-formed acknowledgement until ctx is cancelled. It returns once
// the subscription is confirmed.
func (n *Notifier) StartArtifactSubscriber(
	ctx context.Context, onAck func(ctx context.Context, ack ArtifactAck) error,
) error {
	if n.rdb == nil {
		return models.NewDependencyError("notifications", errNoClient)
	}
	sub := n.rdb.Subscribe(ctx, ArtifactAckChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return models.NewDependencyError("notifications", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handleAck(ctx, msg.Payload, onAck)
			}
		}
	}()

	return nil
}

func handleAck(ctx context.Context, payload string, onAck func(context.Context, ArtifactAck) error) {
	defer func() {
		if r := recover(); r != nil {
			middleware.Logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic in artifact subscriber")
		}
	}()

	var ack ArtifactAck
	if err := json.Unmarshal([]byte(payload), &ack); err != nil || ack.RequestID == "" {
		middleware.Logger.Warn().Str("payload", payload).Msg("discarding malformed artifact ack")
		return
	}
	if err := onAck(ctx, ack); err != nil {
		middleware.Logger.Warn().Err(err).Str("request_id", ack.RequestID).Msg("artifact ack not applied")
	}
}
