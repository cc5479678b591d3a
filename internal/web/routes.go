package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	d := s.deps
	tolerance := d.Matcher.Tolerance()

	identitiesHandler := handlers.NewIdentitiesHandler(d.Gallery, d.Enrollment, d.Extractor, d.Metrics, tolerance, s.log)
	identifyHandler := handlers.NewIdentifyHandler(d.Matcher, d.Extractor, d.Metrics, s.config.Matching.Candidates, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(d.Matcher, d.Gallery, d.Ledger, d.Extractor, d.Metrics, s.log)
	statsHandler := handlers.NewStatsHandler(d.Gallery, d.Ledger, d.Store, s.log)
	galleryHandler := handlers.NewGalleryHandler(d.Gallery, d.Metrics, statsHandler.InvalidateCache, s.log)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	if d.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Identities
		r.Get("/identities", identitiesHandler.List)
		r.Post("/identities", identitiesHandler.Enroll)
		r.Get("/identities/{id}", identitiesHandler.Get)

		// Matching
		r.Post("/identify", identifyHandler.Identify)

		// Attendance
		r.Post("/attendance/scan", attendanceHandler.Scan)
		r.Post("/attendance/mark", attendanceHandler.Mark)
		r.Get("/attendance", attendanceHandler.History)

		// Gallery
		r.Get("/gallery", galleryHandler.Status)
		r.Post("/gallery/refresh", galleryHandler.Refresh)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
