package cache

import (
	"context"
	"fmt"
	"time"

	"staffdesk/internal/models"
)

const (
	SubmitterHistoryPrefix = "staffdesk:history:submitter:%s:%s"
	SubjectHistoryPrefix   = "staffdesk:history:subject:%s"
)

// HistoryTTL is the default lifetime of a cached history listing.
const HistoryTTL = 2 * time.Minute

// SubmitterHistoryKey keys a member's submissions, optionally narrowed to one kind.
func SubmitterHistoryKey(memberID string, kind models.Kind) string {
	k := string(kind)
	if k == "" {
		k = "all"
	}
	return fmt.Sprintf(SubmitterHistoryPrefix, memberID, k)
}

// SubjectHistoryKey keys the requests naming a member as subject.
func SubjectHistoryKey(memberID string) string {
	return fmt.Sprintf(SubjectHistoryPrefix, memberID)
}

// InvalidateRequest drops every history listing a request appears in.
func (c *Cache) InvalidateRequest(ctx context.Context, r *models.Request) {
	if r == nil {
		return
	}
	keys := []string{
		SubmitterHistoryKey(r.SubmitterID, ""),
		SubmitterHistoryKey(r.SubmitterID, r.Kind),
		SubjectHistoryKey(r.SubjectID),
	}
	c.Invalidate(ctx, keys...)
}
