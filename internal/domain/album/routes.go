package album

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns album router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// All routes require authentication
	r.Use(authMiddleware)

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Route("/{album_id}", func(r chi.Router) {
		r.Get("/", h.GetPhotos)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/photos", h.AddPhotos)
		r.Delete("/photos", h.DeletePhotos)
	})

	return r
}

// InternalRoutes returns the service-to-service hooks
func (h *Handler) InternalRoutes(internalMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(internalMiddleware)

	r.Post("/person", h.CreatePersonAlbum)
	r.Patch("/person", h.UpdatePersonAlbum)
	r.Get("/schedules/{schedule_id}", h.GetBySchedule)
	r.Delete("/family-cache/{user_id}", h.ForgetFamily)

	return r
}
