package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-matcher/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	statsHandler := handlers.NewStatsHandler(s.service, s.logger)
	recognizeHandler := handlers.NewRecognizeHandler(s.service, s.logger)
	peopleHandler := handlers.NewPeopleHandler(s.service, statsHandler, s.logger)
	profilesHandler := handlers.NewProfilesHandler(s.service, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck(s.service))

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)
		r.Post("/recognize/batch", recognizeHandler.RecognizeBatch)

		// Enrollment
		r.Get("/people", peopleHandler.List)
		r.Post("/people/{personID}/enroll", peopleHandler.Enroll)
		r.Delete("/people/{personID}", peopleHandler.Remove)

		// Profiles
		r.Get("/profiles/search", profilesHandler.Search)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
