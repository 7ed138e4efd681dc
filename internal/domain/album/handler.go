package album

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/familring/album-service/internal/middleware"
	"github.com/familring/album-service/internal/pkg/errorhandler"
	"github.com/familring/album-service/internal/pkg/response"
	"github.com/familring/album-service/internal/pkg/upstream"
	"github.com/familring/album-service/internal/pkg/validator"
)

const multipartMemory = 32 << 20

// HandlerConfig bounds multipart uploads
type HandlerConfig struct {
	MaxUploadPhotos int
	MaxPhotoBytes   int64
}

// Handler handles album HTTP requests
type Handler struct {
	service *Service
	cfg     HandlerConfig
}

// NewHandler creates album handler
func NewHandler(service *Service, cfg HandlerConfig) *Handler {
	return &Handler{service: service, cfg: cfg}
}

// List handles GET /albums
// @Summary List family albums grouped by type
// @Tags Album
// @Produce json
// @Param album_type query []string false "NORMAL, SCHEDULE, PERSON"
// @Success 200 {object} response.Response{data=AlbumListResponse}
// @Failure 400,401,403,502 {object} response.Response
// @Router /albums [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var types []AlbumType
	for _, v := range r.URL.Query()["album_type"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, AlbumType(strings.ToUpper(part)))
			}
		}
	}

	albums, err := h.service.ListAlbums(r.Context(), middleware.GetUserID(r.Context()), types)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Albums retrieved", albums)
}

// Create handles POST /albums
// @Summary Create album
// @Tags Album
// @Accept json
// @Produce json
// @Param request body CreateAlbumRequest true "Album"
// @Success 201 {object} response.Response{data=AlbumResponse}
// @Failure 400,401,403,409,422,502 {object} response.Response
// @Router /albums [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidationError(r.Context(), w, errs)
		return
	}

	album, err := h.service.CreateAlbum(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.Created(w, "Album created", AlbumResponseFromEntity(album))
}

// Update handles PATCH /albums/{album_id}
// @Summary Rename album
// @Tags Album
// @Accept json
// @Produce json
// @Param album_id path string true "Album ID"
// @Param request body UpdateAlbumRequest true "New name"
// @Success 200 {object} response.Response{data=AlbumResponse}
// @Failure 400,401,403,404,422,502 {object} response.Response
// @Router /albums/{album_id} [patch]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	albumID, ok := albumIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidationError(r.Context(), w, errs)
		return
	}

	album, err := h.service.UpdateAlbumName(r.Context(), albumID, middleware.GetUserID(r.Context()), req.AlbumName)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Album updated", AlbumResponseFromEntity(album))
}

// Delete handles DELETE /albums/{album_id}
// @Summary Delete album with all its photos
// @Tags Album
// @Produce json
// @Param album_id path string true "Album ID"
// @Success 200 {object} response.Response
// @Failure 400,401,403,404,502 {object} response.Response
// @Router /albums/{album_id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	albumID, ok := albumIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAlbum(r.Context(), albumID, middleware.GetUserID(r.Context())); err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Album deleted", nil)
}

// GetPhotos handles GET /albums/{album_id}
// @Summary Album photos in upload order
// @Tags Album
// @Produce json
// @Param album_id path string true "Album ID"
// @Success 200 {object} response.Response{data=AlbumPhotosResponse}
// @Failure 400,401,403,404,502 {object} response.Response
// @Router /albums/{album_id} [get]
func (h *Handler) GetPhotos(w http.ResponseWriter, r *http.Request) {
	albumID, ok := albumIDParam(w, r)
	if !ok {
		return
	}

	photos, err := h.service.GetAlbumPhotos(r.Context(), albumID, middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Album photos retrieved", photos)
}

// AddPhotos handles POST /albums/{album_id}/photos
// @Summary Upload photos and distribute them to person albums
// @Tags Album
// @Accept multipart/form-data
// @Produce json
// @Param album_id path string true "Album ID"
// @Param photos formData file true "Photos (repeatable)"
// @Success 201 {object} response.Response{data=AddPhotosResponse}
// @Failure 400,401,403,404,413,502,504 {object} response.Response
// @Router /albums/{album_id}/photos [post]
func (h *Handler) AddPhotos(w http.ResponseWriter, r *http.Request) {
	albumID, ok := albumIDParam(w, r)
	if !ok {
		return
	}

	if limit := h.maxBodyBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the allowed size")
			return
		}
		response.BadRequest(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads, err := h.readUploads(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.service.AddPhotos(r.Context(), albumID, middleware.GetUserID(r.Context()), uploads)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.Created(w, "Photos added", result)
}

// DeletePhotos handles DELETE /albums/{album_id}/photos
// @Summary Delete photos from album (all or nothing)
// @Tags Album
// @Accept json
// @Produce json
// @Param album_id path string true "Album ID"
// @Param request body DeletePhotosRequest true "Photo IDs"
// @Success 200 {object} response.Response
// @Failure 400,401,403,404,422,502 {object} response.Response
// @Router /albums/{album_id}/photos [delete]
func (h *Handler) DeletePhotos(w http.ResponseWriter, r *http.Request) {
	albumID, ok := albumIDParam(w, r)
	if !ok {
		return
	}

	var req DeletePhotosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidationError(r.Context(), w, errs)
		return
	}

	if err := h.service.DeletePhotos(r.Context(), albumID, middleware.GetUserID(r.Context()), req.PhotoIDs); err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Photos deleted", nil)
}

// CreatePersonAlbum handles POST /internal/albums/person
func (h *Handler) CreatePersonAlbum(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidationError(r.Context(), w, errs)
		return
	}

	album, err := h.service.CreatePersonAlbum(r.Context(), req.UserID, req.FamilyID, req.Nickname)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.Created(w, "Person album ready", AlbumResponseFromEntity(album))
}

// UpdatePersonAlbum handles PATCH /internal/albums/person
func (h *Handler) UpdatePersonAlbum(w http.ResponseWriter, r *http.Request) {
	var req UpdatePersonAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidationError(r.Context(), w, errs)
		return
	}

	if err := h.service.UpdatePersonAlbumName(r.Context(), req.UserID, req.Nickname); err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Person album renamed", nil)
}

// GetBySchedule handles GET /internal/albums/schedules/{schedule_id}
func (h *Handler) GetBySchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := strconv.ParseInt(chi.URLParam(r, "schedule_id"), 10, 64)
	if err != nil || scheduleID <= 0 {
		response.BadRequest(w, "Invalid schedule ID")
		return
	}

	album, err := h.service.GetAlbumByScheduleID(r.Context(), scheduleID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Album retrieved", AlbumResponseFromEntity(album))
}

// ForgetFamily handles DELETE /internal/albums/family-cache/{user_id}
func (h *Handler) ForgetFamily(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	if err := h.service.ForgetFamily(r.Context(), userID); err != nil {
		h.handleError(w, r, err)
		return
	}

	response.OK(w, "Family cache entry dropped", nil)
}

func (h *Handler) readUploads(r *http.Request) ([]Upload, error) {
	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		return nil, errors.New("no photos in field \"photos\"")
	}
	if h.cfg.MaxUploadPhotos > 0 && len(files) > h.cfg.MaxUploadPhotos {
		return nil, fmt.Errorf("at most %d photos per upload", h.cfg.MaxUploadPhotos)
	}

	uploads := make([]Upload, 0, len(files))
	for _, fh := range files {
		if h.cfg.MaxPhotoBytes > 0 && fh.Size > h.cfg.MaxPhotoBytes {
			return nil, fmt.Errorf("%s exceeds the maximum photo size", fh.Filename)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot read %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot read %s", fh.Filename)
		}
		uploads = append(uploads, Upload{Filename: fh.Filename, Data: data})
	}
	return uploads, nil
}

func (h *Handler) maxBodyBytes() int64 {
	if h.cfg.MaxUploadPhotos <= 0 || h.cfg.MaxPhotoBytes <= 0 {
		return 0
	}
	// Multipart framing overhead per part is small; 1MB covers it.
	return int64(h.cfg.MaxUploadPhotos)*h.cfg.MaxPhotoBytes + 1<<20
}

func albumIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "album_id"))
	if err != nil {
		response.BadRequest(w, "Invalid album ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrAlbumNotFound):
		response.NotFound(w, "Album not found")
	case errors.Is(err, ErrPhotoNotFound):
		response.NotFound(w, "Photo not found")
	case errors.Is(err, ErrNoFamily):
		response.Error(w, http.StatusForbidden, "NO_FAMILY", "You do not belong to a family")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "Album belongs to another family")
	case errors.Is(err, ErrInvalidParameter):
		response.Error(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
	case errors.Is(err, ErrAlbumExists):
		response.Conflict(w, "Album already exists")
	case errors.Is(err, upstream.ErrTimeout):
		errorhandler.HandleError(ctx, w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "A dependent service timed out", err)
	case errors.Is(err, ErrUpstream):
		errorhandler.HandleError(ctx, w, http.StatusBadGateway, "UPSTREAM_FAILURE", "A dependent service failed", err)
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
