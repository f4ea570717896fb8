// Command seed fills the workflow tables with demo requests.
package main

import (
	"context"
	"flag"
	"log"

	"staffdesk/internal/config"
	"staffdesk/internal/database"
	"staffdesk/internal/middleware"
	"staffdesk/internal/seed"
)

func main() {
	pending := flag.Int("pending", 5, "Pending requests to create per kind")
	resolved := flag.Int("resolved", 10, "Resolved requests to create per kind")
	maxDays := flag.Int("max-days", 90, "Spread created_at over this many days")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible content (0 uses the clock)")
	shouldClean := flag.Bool("clean", false, "Delete existing requests before seeding")
	dryRun := flag.Bool("dry-run", false, "Build requests without writing them")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.ConfigureLogger(cfg.Env, cfg.LogLevel)

	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	ctx := context.Background()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.ApplySchema(ctx, db, cfg); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		PendingPerKind:  *pending,
		ResolvedPerKind: *resolved,
		MaxDays:         *maxDays,
		Seed:            *randSeed,
		DryRun:          *dryRun,
	})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	summary, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	middleware.Logger.Info().Int("total", summary.Total()).Bool("dry_run", *dryRun).Msg("seeding complete")
}
