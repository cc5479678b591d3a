package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/maintenance"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// pruneInterval is how often idle cooldown entries are dropped.
const pruneInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Face Attendance HTTP API.
The server loads the gallery of enrolled faces, refreshes it periodically,
and exposes identification, attendance scanning, enrollment and history
endpoints under /api/v1 plus Prometheus metrics on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("no-extractor", false, "Disable image probes (embeddings only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New(prometheus.DefaultRegisterer, metrics.Gauges{
		GallerySize: a.gallery.Len,
		Cooldowns:   func() int { return a.ledger.Cooldowns(time.Now()) },
	})

	deps := web.Deps{
		Store:      a.store,
		Gallery:    a.gallery,
		Matcher:    a.matcher,
		Ledger:     a.ledger,
		Enrollment: a.enrollment,
		Metrics:    m,
		Gatherer:   prometheus.DefaultGatherer,
		Log:        log,
	}
	if !mustGetBool(cmd, "no-extractor") {
		deps.Extractor = a.extractor
		if err := a.extractor.Ping(ctx); err != nil {
			fmt.Printf("Warning: face extractor not reachable at %s: %v\n", cfg.Extractor.URL, err)
		}
	}

	sched, err := maintenance.New(a.gallery, a.ledger, m, maintenance.Options{
		RefreshInterval: cfg.Gallery.RefreshInterval,
		PruneInterval:   pruneInterval,
	}, log)
	if err != nil {
		return err
	}
	sched.Start()

	server := web.NewServer(cfg, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		if err := sched.Shutdown(); err != nil {
			fmt.Printf("Error stopping scheduler: %v\n", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Attendance API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
