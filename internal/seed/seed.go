package seed

import (
	"context"
	"fmt"

	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/repository"

	"gorm.io/gorm"
)

// Summary counts what a run created, keyed by kind and then status.
type Summary map[models.Kind]map[models.Status]int

// Total returns the number of requests in s.
func (s Summary) Total() int {
	n := 0
	for _, byStatus := range s {
		for _, c := range byStatus {
			n += c
		}
	}
	return n
}

func (s Summary) add(kind models.Kind, status models.Status) {
	if s[kind] == nil {
		s[kind] = map[models.Status]int{}
	}
	s[kind][status]++
}

// Seeder populates the workflow tables.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
	opts    Options
}

// NewSeeder creates a Seeder writing to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	var requests repository.RequestRepository
	if db != nil {
		requests = repository.NewRequestRepository(db)
	}
	return &Seeder{db: db, factory: NewFactory(requests, opts), opts: opts}
}

// ClearAll removes every request, side-effect and role-change row.
func (s *Seeder) ClearAll(ctx context.Context) error {
	if s.opts.DryRun {
		return nil
	}
	middleware.Logger.Info().Msg("clearing workflow tables")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoleChange{}).Error; err != nil {
			return fmt.Errorf("clear role changes: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.SideEffect{}).Error; err != nil {
			return fmt.Errorf("clear side effects: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Request{}).Error; err != nil {
			return fmt.Errorf("clear requests: %w", err)
		}
		return nil
	})
}

// Run creates the configured number of pending and resolved requests for
// every kind. Resolved requests alternate between accepted and denied.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	summary := Summary{}
	for _, kind := range models.Kinds {
		for i := 0; i < s.opts.PendingPerKind; i++ {
			if _, err := s.factory.CreatePending(ctx, kind); err != nil {
				return summary, err
			}
			summary.add(kind, models.StatusPending)
		}
		for i := 0; i < s.opts.ResolvedPerKind; i++ {
			status := models.StatusAccepted
			if i%2 == 1 {
				status = models.StatusDenied
			}
			if _, err := s.factory.CreateResolved(ctx, kind, status); err != nil {
				return summary, err
			}
			summary.add(kind, status)
		}
		middleware.Logger.Info().
			Str("kind", string(kind)).
			Int("pending", summary[kind][models.StatusPending]).
			Int("resolved", summary[kind][models.StatusAccepted]+summary[kind][models.StatusDenied]).
			Msg("seeded requests")
	}
	return summary, nil
}
