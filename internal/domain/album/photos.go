package album

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/familring/album-service/internal/pkg/classification"
	"github.com/familring/album-service/internal/pkg/family"
	"github.com/familring/album-service/internal/pkg/imaging"
	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/storage"
)

// AddPhotos uploads a batch into the album and fans every photo out to the person
// albums of members whose face scores above the threshold. Originals and derived
// copies commit in one transaction.
func (s *Service) AddPhotos(ctx context.Context, albumID uuid.UUID, requesterID int64, uploads []Upload) (*AddPhotosResponse, error) {
	start := time.Now()
	defer s.metrics.ObserveBatch(start)

	payloads, err := s.preparePayloads(uploads)
	if err != nil {
		return nil, err
	}

	target, err := s.authorize(ctx, albumID, requesterID)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With().
		Str("album_id", albumID.String()).
		Int64("family_id", target.FamilyID).
		Logger()

	prefix := path.Join(s.cfg.PhotoPath, strconv.FormatInt(target.FamilyID, 10))
	urls, err := s.blobs.UploadFiles(ctx, payloads, prefix)
	if err != nil {
		s.metrics.UpstreamFailed("blob-store")
		err = fmt.Errorf("%w: upload photos: %w", ErrUpstream, err)
		if len(urls) > 0 {
			s.handleOrphans(ctx, urls, err)
		}
		return nil, err
	}

	now := time.Now()
	originals := make([]Photo, len(urls))
	for i, u := range urls {
		originals[i] = Photo{ID: uuid.New(), AlbumID: target.ID, URL: u, CreatedAt: now}
	}

	members, err := s.families.GetFamilyMembers(ctx, requesterID)
	if err != nil {
		s.upstreamFailed(err, "family-service")
		s.handleOrphans(ctx, urls, err)
		return nil, err
	}

	people := scorablePeople(members)
	var results []classification.Result
	if len(people) == 0 {
		log.Info().Int("members", len(members)).Msg("No member has a face signature, skipping similarity scoring")
	} else {
		results, err = s.scorer.CalculateSimilarity(ctx, classification.Request{TargetImages: urls, People: people})
		if err != nil {
			s.upstreamFailed(err, "classification-service")
			s.handleOrphans(ctx, urls, err)
			return nil, err
		}
	}

	personAlbums, err := s.personAlbumsByUser(ctx, target.FamilyID, people)
	if err != nil {
		s.handleOrphans(ctx, urls, err)
		return nil, err
	}

	derived, skipped := s.fanOut(ctx, originals, results, people, personAlbums, now)

	dropped, err := s.repo.InsertPhotos(ctx, target.ID, originals, derived)
	if err != nil {
		s.handleOrphans(ctx, urls, err)
		return nil, err
	}
	skipped += dropped

	s.metrics.PhotosAdded(len(originals), len(derived)-dropped, skipped)
	log.Info().
		Int("photos", len(originals)).
		Int("derived", len(derived)-dropped).
		Int("skipped", skipped).
		Dur("duration", time.Since(start)).
		Msg("Photo batch added")

	resp := &AddPhotosResponse{
		AlbumID:      target.ID,
		Photos:       make([]PhotoResponse, len(originals)),
		DerivedCount: len(derived) - dropped,
		SkippedCount: skipped,
	}
	for i := range originals {
		resp.Photos[i] = PhotoResponseFromEntity(&originals[i])
	}
	return resp, nil
}

// preparePayloads validates and normalizes every upload before any external call.
func (s *Service) preparePayloads(uploads []Upload) ([]storage.Payload, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: no photos in request", ErrInvalidParameter)
	}
	if s.cfg.MaxUploadPhotos > 0 && len(uploads) > s.cfg.MaxUploadPhotos {
		return nil, fmt.Errorf("%w: at most %d photos per upload", ErrInvalidParameter, s.cfg.MaxUploadPhotos)
	}

	payloads := make([]storage.Payload, len(uploads))
	for i, u := range uploads {
		if _, err := storage.ValidatePhoto(u.Data, s.cfg.MaxPhotoBytes); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, u.Filename, err)
		}
		img, err := s.normalizer.Normalize(u.Data)
		if err != nil {
			if errors.Is(err, imaging.ErrNotImage) {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, u.Filename, err)
			}
			return nil, err
		}
		payloads[i] = storage.Payload{Data: img.Data, ContentType: img.ContentType, Ext: img.Ext}
	}
	return payloads, nil
}

// scorablePeople keeps the members that have a face signature.
func scorablePeople(members []family.Member) []classification.Person {
	people := make([]classification.Person, 0, len(members))
	for _, m := range members {
		if m.FaceSignature == "" {
			continue
		}
		people = append(people, classification.Person{ID: m.UserID, FaceSignature: m.FaceSignature})
	}
	return people
}

// personAlbumsByUser loads the person albums of all people in one query.
func (s *Service) personAlbumsByUser(ctx context.Context, familyID int64, people []classification.Person) (map[int64]uuid.UUID, error) {
	if len(people) == 0 {
		return nil, nil
	}
	userIDs := make([]int64, len(people))
	for i, p := range people {
		userIDs[i] = p.ID
	}

	albums, err := s.repo.ListPersonAlbums(ctx, familyID, userIDs)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64]uuid.UUID, len(albums))
	for _, a := range albums {
		byUser[a.OwnerUserID.Int64] = a.ID
	}
	return byUser, nil
}

// fanOut creates one derived copy per (photo, member) pair scoring strictly above
// the threshold. Scores for ids outside the roster are ignored.
func (s *Service) fanOut(ctx context.Context, originals []Photo, results []classification.Result,
	people []classification.Person, personAlbums map[int64]uuid.UUID, now time.Time) ([]Photo, int) {
	log := logger.FromContext(ctx)

	var derived []Photo
	skipped := 0
	for i, result := range results {
		if i >= len(originals) {
			break
		}
		original := originals[i]
		log.Debug().
			Str("photo_id", original.ID.String()).
			Int("face_count", result.FaceCount).
			Msg("Photo scored")

		for _, person := range people {
			score, ok := result.Similarities[person.ID]
			if !ok || score <= s.cfg.FaceMatchThreshold {
				continue
			}
			albumID, ok := personAlbums[person.ID]
			if !ok {
				skipped++
				log.Warn().
					Int64("user_id", person.ID).
					Str("photo_id", original.ID.String()).
					Float64("score", score).
					Msg("Member has no person album, skipping derived copy")
				continue
			}
			derived = append(derived, Photo{
				ID:        uuid.New(),
				AlbumID:   albumID,
				URL:       original.URL,
				ParentID:  uuid.NullUUID{UUID: original.ID, Valid: true},
				CreatedAt: now,
			})
		}
	}
	return derived, skipped
}

// handleOrphans applies the orphan blob policy to blobs uploaded by a failed batch.
func (s *Service) handleOrphans(ctx context.Context, urls []string, cause error) {
	logger.FromContext(ctx).Warn().
		Err(cause).
		Strs("orphaned_urls", urls).
		Bool("compensate", s.cfg.CompensateOrphanBlobs).
		Msg("Photo batch failed after upload")

	if s.cfg.CompensateOrphanBlobs {
		s.deleteBlobs(ctx, urls)
	}
}

// DeletePhotos removes photos from an album. Every photo must belong to albumID
// and to the requester's family, otherwise nothing is deleted.
func (s *Service) DeletePhotos(ctx context.Context, albumID uuid.UUID, requesterID int64, photoIDs []uuid.UUID) error {
	ids := dedupe(photoIDs)
	if len(ids) == 0 {
		return fmt.Errorf("%w: photo_ids is empty", ErrInvalidParameter)
	}

	familyID, err := s.resolveFamily(ctx, requesterID)
	if err != nil {
		return err
	}

	photos, err := s.repo.GetPhotosWithAlbums(ctx, ids)
	if err != nil {
		return err
	}
	if len(photos) != len(ids) {
		return ErrPhotoNotFound
	}
	for _, p := range photos {
		if p.AlbumID != albumID || p.AlbumFamilyID != familyID {
			return ErrForbidden
		}
	}

	urls, err := s.repo.DeletePhotos(ctx, albumID, ids)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("album_id", albumID.String()).
		Int("photos", len(ids)).
		Int("blob_count", len(urls)).
		Msg("Photos deleted")

	s.deleteBlobs(ctx, urls)
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
