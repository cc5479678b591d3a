package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/sirupsen/logrus"
)

// app holds the components shared by the commands.
type app struct {
	cfg        *config.Config
	log        logrus.FieldLogger
	store      database.Store
	gallery    *gallery.Gallery
	matcher    *matcher.Matcher
	ledger     *ledger.Ledger
	enrollment *enrollment.Service
	extractor  *extractor.Client
}

// openApp connects to the database and wires the core components. The
// gallery is loaded when loadGallery is set; an empty or unreachable source is
// reported as a warning so that enrolling into an empty database still works.
func openApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, loadGallery bool) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to %s database...\n", database.Scheme(cfg.Database.URL))
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	g := gallery.New(store, log)
	if loadGallery {
		if err := g.Refresh(ctx); err != nil {
			fmt.Printf("Warning: gallery not loaded: %v\n", err)
		} else {
			fmt.Printf("Gallery loaded with %d identities\n", g.Len())
		}
	}

	tolerance := cfg.Matching.Tolerance
	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		gallery:    g,
		matcher:    matcher.New(g, tolerance),
		ledger:     ledger.New(store, cfg.Attendance.Cooldown, log),
		enrollment: enrollment.NewService(store, g, tolerance, log),
		extractor:  extractor.NewClient(cfg.Extractor),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}
