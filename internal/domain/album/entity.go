package album

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// AlbumType discriminates the type-dependent attributes of an album
type AlbumType string

const (
	AlbumTypeNormal   AlbumType = "NORMAL"
	AlbumTypeSchedule AlbumType = "SCHEDULE"
	AlbumTypePerson   AlbumType = "PERSON"
)

// AllAlbumTypes in listing order
var AllAlbumTypes = []AlbumType{AlbumTypeNormal, AlbumTypeSchedule, AlbumTypePerson}

// IsValid checks if album type is known
func (t AlbumType) IsValid() bool {
	switch t {
	case AlbumTypeNormal, AlbumTypeSchedule, AlbumTypePerson:
		return true
	}
	return false
}

// Album belongs to exactly one family. FamilyID and Type never change after creation.
type Album struct {
	ID          uuid.UUID     `db:"id"`
	FamilyID    int64         `db:"family_id"`
	Name        string        `db:"name"`
	Type        AlbumType     `db:"album_type"`
	OwnerUserID sql.NullInt64 `db:"owner_user_id"`
	ScheduleID  sql.NullInt64 `db:"schedule_id"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Photo is a blob URL owned by one album. ParentID is set on derived copies
// and points at the original they were fanned out from.
type Photo struct {
	ID        uuid.UUID     `db:"id"`
	Seq       int64         `db:"seq"`
	AlbumID   uuid.UUID     `db:"album_id"`
	URL       string        `db:"url"`
	ParentID  uuid.NullUUID `db:"parent_id"`
	CreatedAt time.Time     `db:"created_at"`
}

// IsDerived reports whether the photo was created by face-match fan-out
func (p *Photo) IsDerived() bool {
	return p.ParentID.Valid
}

// PhotoWithAlbum joins a photo with the family of its owning album
type PhotoWithAlbum struct {
	Photo
	AlbumFamilyID int64 `db:"album_family_id"`
}

// AlbumSummary is one row of the album listing
type AlbumSummary struct {
	ID           uuid.UUID      `db:"id"`
	Name         string         `db:"name"`
	Type         AlbumType      `db:"album_type"`
	ThumbnailURL sql.NullString `db:"thumbnail_url"`
	PhotoCount   int            `db:"photo_count"`
	CreatedAt    time.Time      `db:"created_at"`
}

// PersonAlbumName is the auto-generated name of a member's person album
func PersonAlbumName(nickname string) string {
	return nickname + "'s album"
}
