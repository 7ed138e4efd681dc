package album

import (
	"time"

	"github.com/google/uuid"
)

// CreateAlbumRequest for POST /albums
type CreateAlbumRequest struct {
	AlbumName  string `json:"album_name" validate:"required,min=1,max=100"`
	AlbumType  string `json:"album_type" validate:"required,album_type"`
	UserID     *int64 `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	ScheduleID *int64 `json:"schedule_id,omitempty" validate:"omitempty,gt=0"`
}

// UpdateAlbumRequest for PATCH /albums/{album_id}
type UpdateAlbumRequest struct {
	AlbumName string `json:"album_name" validate:"required,min=1,max=100"`
}

// DeletePhotosRequest for DELETE /albums/{album_id}/photos
type DeletePhotosRequest struct {
	PhotoIDs []uuid.UUID `json:"photo_ids" validate:"required,min=1"`
}

// CreatePersonAlbumRequest for POST /internal/albums/person
type CreatePersonAlbumRequest struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	FamilyID int64  `json:"family_id" validate:"required,gt=0"`
	Nickname string `json:"nickname,omitempty" validate:"max=50"`
}

// UpdatePersonAlbumRequest for PATCH /internal/albums/person
type UpdatePersonAlbumRequest struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	Nickname string `json:"nickname" validate:"required,min=1,max=50"`
}

// Upload is one raw file of an addPhotos batch
type Upload struct {
	Filename string
	Data     []byte
}

// AlbumResponse represents an album in API responses
type AlbumResponse struct {
	ID         uuid.UUID `json:"album_id"`
	FamilyID   int64     `json:"family_id"`
	Name       string    `json:"album_name"`
	Type       AlbumType `json:"album_type"`
	UserID     *int64    `json:"user_id,omitempty"`
	ScheduleID *int64    `json:"schedule_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlbumResponseFromEntity converts entity to response
func AlbumResponseFromEntity(a *Album) *AlbumResponse {
	resp := &AlbumResponse{
		ID:        a.ID,
		FamilyID:  a.FamilyID,
		Name:      a.Name,
		Type:      a.Type,
		CreatedAt: a.CreatedAt,
	}
	if a.OwnerUserID.Valid {
		resp.UserID = &a.OwnerUserID.Int64
	}
	if a.ScheduleID.Valid {
		resp.ScheduleID = &a.ScheduleID.Int64
	}
	return resp
}

// AlbumSummaryResponse is one album in the grouped listing
type AlbumSummaryResponse struct {
	ID         uuid.UUID `json:"album_id"`
	Name       string    `json:"album_name"`
	Thumbnail  *string   `json:"thumbnail"`
	PhotoCount int       `json:"photo_count"`
}

// AlbumListResponse groups album summaries by type. Types without albums are absent.
type AlbumListResponse map[AlbumType][]AlbumSummaryResponse

// PhotoResponse represents a photo in API responses
type PhotoResponse struct {
	ID       uuid.UUID  `json:"photo_id"`
	URL      string     `json:"photo_url"`
	ParentID *uuid.UUID `json:"parent_photo_id,omitempty"`
}

// PhotoResponseFromEntity converts entity to response
func PhotoResponseFromEntity(p *Photo) PhotoResponse {
	resp := PhotoResponse{ID: p.ID, URL: p.URL}
	if p.ParentID.Valid {
		parent := p.ParentID.UUID
		resp.ParentID = &parent
	}
	return resp
}

// AlbumPhotosResponse is the ordered content of one album
type AlbumPhotosResponse struct {
	AlbumID   uuid.UUID       `json:"album_id"`
	AlbumName string          `json:"album_name"`
	AlbumType AlbumType       `json:"album_type"`
	Photos    []PhotoResponse `json:"photos"`
}

// AddPhotosResponse reports the outcome of one upload batch
type AddPhotosResponse struct {
	AlbumID      uuid.UUID       `json:"album_id"`
	Photos       []PhotoResponse `json:"photos"`
	DerivedCount int             `json:"derived_count"`
	SkippedCount int             `json:"skipped_count"`
}
