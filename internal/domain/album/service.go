package album

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/familring/album-service/internal/pkg/classification"
	"github.com/familring/album-service/internal/pkg/family"
	"github.com/familring/album-service/internal/pkg/imaging"
	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/metrics"
	"github.com/familring/album-service/internal/pkg/storage"
	"github.com/familring/album-service/internal/pkg/userdir"
)

// BlobStore uploads and deletes photo blobs
type BlobStore interface {
	// UploadFiles returns the URLs it managed to store even when it fails.
	UploadFiles(ctx context.Context, payloads []storage.Payload, prefix string) ([]string, error)
	DeleteFiles(ctx context.Context, urls []string) error
}

// UserDirectory fetches user profiles
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (*userdir.User, error)
}

// Normalizer prepares raw uploads for storage
type Normalizer interface {
	Normalize(data []byte) (*imaging.Image, error)
}

// Config tunes the photo distribution engine
type Config struct {
	FaceMatchThreshold    float64
	PhotoPath             string
	CompensateOrphanBlobs bool
	MaxUploadPhotos       int
	MaxPhotoBytes         int64
	BlobDeleteTimeout     time.Duration
}

// Service handles album business logic
type Service struct {
	repo       Repository
	families   family.Directory
	users      UserDirectory
	blobs      BlobStore
	scorer     classification.Scorer
	normalizer Normalizer
	metrics    *metrics.Metrics
	cfg        Config
}

// Deps groups the collaborators of the album service
type Deps struct {
	Repo       Repository
	Families   family.Directory
	Users      UserDirectory
	Blobs      BlobStore
	Scorer     classification.Scorer
	Normalizer Normalizer
	Metrics    *metrics.Metrics
}

// NewService creates album service
func NewService(deps Deps, cfg Config) *Service {
	if cfg.BlobDeleteTimeout <= 0 {
		cfg.BlobDeleteTimeout = 30 * time.Second
	}
	return &Service{
		repo:       deps.Repo,
		families:   deps.Families,
		users:      deps.Users,
		blobs:      deps.Blobs,
		scorer:     deps.Scorer,
		normalizer: deps.Normalizer,
		metrics:    deps.Metrics,
		cfg:        cfg,
	}
}

// CreateAlbum creates a NORMAL, SCHEDULE or PERSON album in the requester's family.
// A PERSON album without user_id is owned by the requester.
func (s *Service) CreateAlbum(ctx context.Context, requesterID int64, req *CreateAlbumRequest) (*Album, error) {
	albumType := AlbumType(strings.ToUpper(req.AlbumType))
	name := strings.TrimSpace(req.AlbumName)
	if name == "" {
		return nil, fmt.Errorf("%w: album_name is empty", ErrInvalidParameter)
	}
	if err := validateAttributes(albumType, req.UserID, req.ScheduleID); err != nil {
		return nil, err
	}

	familyID, err := s.resolveFamily(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	album := &Album{
		ID:        uuid.New(),
		FamilyID:  familyID,
		Name:      name,
		Type:      albumType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch albumType {
	case AlbumTypePerson:
		owner := requesterID
		if req.UserID != nil && *req.UserID != requesterID {
			owner = *req.UserID
			if err := s.assertMember(ctx, requesterID, owner); err != nil {
				return nil, err
			}
		}
		album.OwnerUserID = sql.NullInt64{Int64: owner, Valid: true}
	case AlbumTypeSchedule:
		album.ScheduleID = sql.NullInt64{Int64: *req.ScheduleID, Valid: true}
	}

	if err := s.repo.Create(ctx, album); err != nil {
		return nil, err
	}

	s.metrics.AlbumCreated(string(albumType))
	logger.FromContext(ctx).Info().
		Str("album_id", album.ID.String()).
		Str("album_type", string(albumType)).
		Int64("family_id", familyID).
		Msg("Album created")
	return album, nil
}

func validateAttributes(t AlbumType, userID, scheduleID *int64) error {
	switch t {
	case AlbumTypePerson:
		if scheduleID != nil {
			return fmt.Errorf("%w: person album cannot carry schedule_id", ErrInvalidParameter)
		}
	case AlbumTypeSchedule:
		if scheduleID == nil {
			return fmt.Errorf("%w: schedule album requires schedule_id", ErrInvalidParameter)
		}
		if userID != nil {
			return fmt.Errorf("%w: schedule album cannot carry user_id", ErrInvalidParameter)
		}
	case AlbumTypeNormal:
		if userID != nil || scheduleID != nil {
			return fmt.Errorf("%w: normal album cannot carry user_id or schedule_id", ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: unknown album type %q", ErrInvalidParameter, t)
	}
	return nil
}

func (s *Service) assertMember(ctx context.Context, requesterID, userID int64) error {
	members, err := s.families.GetFamilyMembers(ctx, requesterID)
	if err != nil {
		s.upstreamFailed(err, "family-service")
		return err
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return fmt.Errorf("%w: user %d is not a member of the family", ErrInvalidParameter, userID)
}

// CreatePersonAlbum provisions the person album of a new member. The family id is
// passed in because the member may not be visible to the family service yet.
// Calling it again for the same member returns the existing album.
func (s *Service) CreatePersonAlbum(ctx context.Context, userID, familyID int64, nickname string) (*Album, error) {
	if userID <= 0 || familyID <= 0 {
		return nil, fmt.Errorf("%w: user_id and family_id are required", ErrInvalidParameter)
	}

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, userdir.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: unknown user %d", ErrInvalidParameter, userID)
			}
			s.upstreamFailed(err, "user-service")
			return nil, err
		}
		nickname = user.Nickname
	}

	now := time.Now()
	album, created, err := s.repo.CreatePersonIfAbsent(ctx, &Album{
		ID:          uuid.New(),
		FamilyID:    familyID,
		Name:        PersonAlbumName(nickname),
		Type:        AlbumTypePerson,
		OwnerUserID: sql.NullInt64{Int64: userID, Valid: true},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.metrics.AlbumCreated(string(AlbumTypePerson))
		logger.FromContext(ctx).Info().
			Str("album_id", album.ID.String()).
			Int64("user_id", userID).
			Int64("family_id", familyID).
			Msg("Person album provisioned")
	}
	return album, nil
}

// UpdateAlbumName renames an album of the requester's family. The type never changes.
func (s *Service) UpdateAlbumName(ctx context.Context, albumID uuid.UUID, requesterID int64, name string) (*Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: album_name is empty", ErrInvalidParameter)
	}
	if _, err := s.authorize(ctx, albumID, requesterID); err != nil {
		return nil, err
	}

	album, err := s.repo.UpdateName(ctx, albumID, name)
	if err != nil {
		return nil, err
	}
	if album == nil {
		return nil, ErrAlbumNotFound
	}
	return album, nil
}

// UpdatePersonAlbumName follows a member's nickname change.
func (s *Service) UpdatePersonAlbumName(ctx context.Context, userID int64, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return fmt.Errorf("%w: nickname is empty", ErrInvalidParameter)
	}
	n, err := s.repo.RenamePersonAlbums(ctx, userID, PersonAlbumName(nickname))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlbumNotFound
	}
	return nil
}

// DeleteAlbum removes the album and its photos, then deletes their blobs.
func (s *Service) DeleteAlbum(ctx context.Context, albumID uuid.UUID, requesterID int64) error {
	if _, err := s.authorize(ctx, albumID, requesterID); err != nil {
		return err
	}

	urls, err := s.repo.Delete(ctx, albumID)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("album_id", albumID.String()).
		Int("blob_count", len(urls)).
		Msg("Album deleted")

	s.deleteBlobs(ctx, urls)
	return nil
}

// ListAlbums returns the family's albums grouped by type. No types means all types.
func (s *Service) ListAlbums(ctx context.Context, requesterID int64, types []AlbumType) (AlbumListResponse, error) {
	if len(types) == 0 {
		types = AllAlbumTypes
	}
	for _, t := range types {
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: unknown album type %q", ErrInvalidParameter, t)
		}
	}

	familyID, err := s.resolveFamily(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.repo.ListSummaries(ctx, familyID, types)
	if err != nil {
		return nil, err
	}

	result := AlbumListResponse{}
	for _, a := range summaries {
		item := AlbumSummaryResponse{ID: a.ID, Name: a.Name, PhotoCount: a.PhotoCount}
		if a.ThumbnailURL.Valid {
			thumb := a.ThumbnailURL.String
			item.Thumbnail = &thumb
		}
		result[a.Type] = append(result[a.Type], item)
	}
	return result, nil
}

// GetAlbumPhotos returns the album name and its photos in upload order.
func (s *Service) GetAlbumPhotos(ctx context.Context, albumID uuid.UUID, requesterID int64) (*AlbumPhotosResponse, error) {
	album, err := s.authorize(ctx, albumID, requesterID)
	if err != nil {
		return nil, err
	}

	photos, err := s.repo.ListPhotos(ctx, albumID)
	if err != nil {
		return nil, err
	}

	resp := &AlbumPhotosResponse{
		AlbumID:   album.ID,
		AlbumName: album.Name,
		AlbumType: album.Type,
		Photos:    make([]PhotoResponse, len(photos)),
	}
	for i := range photos {
		resp.Photos[i] = PhotoResponseFromEntity(&photos[i])
	}
	return resp, nil
}

// GetAlbumByScheduleID looks up the album of a schedule. No family check.
func (s *Service) GetAlbumByScheduleID(ctx context.Context, scheduleID int64) (*Album, error) {
	album, err := s.repo.GetByScheduleID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if album == nil {
		return nil, ErrAlbumNotFound
	}
	return album, nil
}

// authorize resolves the requester's family, loads the album and checks ownership.
func (s *Service) authorize(ctx context.Context, albumID uuid.UUID, requesterID int64) (*Album, error) {
	familyID, err := s.resolveFamily(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	album, err := s.repo.GetByID(ctx, albumID)
	if err != nil {
		return nil, err
	}
	if err := AssertOwnership(album, familyID); err != nil {
		return nil, err
	}
	return album, nil
}

func (s *Service) resolveFamily(ctx context.Context, userID int64) (int64, error) {
	familyID, err := s.families.GetFamilyID(ctx, userID)
	if err != nil {
		s.upstreamFailed(err, "family-service")
		return 0, err
	}
	return familyID, nil
}

// familyCache is implemented by directories that cache family resolution.
type familyCache interface {
	Forget(ctx context.Context, userID int64) error
}

// ForgetFamily drops the cached family of userID. The family service calls it
// after a membership change so the next request resolves the family afresh.
func (s *Service) ForgetFamily(ctx context.Context, userID int64) error {
	cache, ok := s.families.(familyCache)
	if !ok {
		return nil
	}
	if err := cache.Forget(ctx, userID); err != nil {
		s.metrics.UpstreamFailed("family-cache")
		return err
	}
	logger.FromContext(ctx).Info().Int64("user_id", userID).Msg("Family cache entry dropped")
	return nil
}

func (s *Service) upstreamFailed(err error, collaborator string) {
	if errors.Is(err, ErrUpstream) {
		s.metrics.UpstreamFailed(collaborator)
	}
}

// deleteBlobs is best-effort and outlives request cancellation.
func (s *Service) deleteBlobs(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BlobDeleteTimeout)
	defer cancel()

	if err := s.blobs.DeleteFiles(delCtx, urls); err != nil {
		s.metrics.BlobDeleteFailure()
		logger.FromContext(ctx).Warn().Err(err).Strs("urls", urls).Msg("Blob deletion failed")
	}
}
