package album

import (
	"errors"

	"github.com/familring/album-service/internal/pkg/family"
	"github.com/familring/album-service/internal/pkg/upstream"
)

var (
	ErrAlbumNotFound    = errors.New("album not found")
	ErrPhotoNotFound    = errors.New("photo not found")
	ErrForbidden        = errors.New("album belongs to another family")
	ErrInvalidParameter = errors.New("invalid album parameter")
	ErrAlbumExists      = errors.New("album already exists")

	// ErrNoFamily is returned when the requester does not belong to any family.
	ErrNoFamily = family.ErrNoFamily
	// ErrUpstream matches every collaborator failure; timeouts also match upstream.ErrTimeout.
	ErrUpstream = upstream.ErrUpstream
)
