package album

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Repository defines album data access interface
type Repository interface {
	Create(ctx context.Context, album *Album) error
	// CreatePersonIfAbsent inserts a person album unless the (family, user) pair already
	// has one, in which case the existing album is returned with created=false.
	CreatePersonIfAbsent(ctx context.Context, album *Album) (existing *Album, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Album, error)
	GetByScheduleID(ctx context.Context, scheduleID int64) (*Album, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) (*Album, error)
	RenamePersonAlbums(ctx context.Context, userID int64, name string) (int64, error)
	// Delete removes the album with its photos and returns the photo URLs that
	// no surviving photo row references.
	Delete(ctx context.Context, id uuid.UUID) ([]string, error)
	ListSummaries(ctx context.Context, familyID int64, types []AlbumType) ([]AlbumSummary, error)
	ListPhotos(ctx context.Context, albumID uuid.UUID) ([]Photo, error)
	ListPersonAlbums(ctx context.Context, familyID int64, userIDs []int64) ([]Album, error)
	// InsertPhotos persists originals into the target album and derived copies into
	// their person albums in one transaction. Derived copies whose album no longer
	// exists are dropped and counted.
	InsertPhotos(ctx context.Context, targetID uuid.UUID, originals, derived []Photo) (dropped int, err error)
	GetPhotosWithAlbums(ctx context.Context, ids []uuid.UUID) ([]PhotoWithAlbum, error)
	// DeletePhotos removes the photos from albumID and returns the URLs no
	// surviving photo row references. Fails with ErrPhotoNotFound if any id is gone.
	DeletePhotos(ctx context.Context, albumID uuid.UUID, ids []uuid.UUID) ([]string, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new album repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const albumColumns = `id, family_id, name, album_type, owner_user_id, schedule_id, created_at, updated_at`

func (r *repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (r *repository) Create(ctx context.Context, album *Album) error {
	query := `
		INSERT INTO albums (id, family_id, name, album_type, owner_user_id, schedule_id, created_at, updated_at)
		VALUES (:id, :family_id, :name, :album_type, :owner_user_id, :schedule_id, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, album)
	return mapWriteError(err)
}

func (r *repository) CreatePersonIfAbsent(ctx context.Context, album *Album) (*Album, bool, error) {
	query := `
		INSERT INTO albums (id, family_id, name, album_type, owner_user_id, schedule_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
		ON CONFLICT (family_id, owner_user_id) WHERE album_type = 'PERSON' DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		album.ID, album.FamilyID, album.Name, AlbumTypePerson, album.OwnerUserID, album.CreatedAt, album.UpdatedAt)
	if err != nil {
		return nil, false, mapWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return album, true, nil
	}

	var existing Album
	err = r.db.GetContext(ctx, &existing, `
		SELECT `+albumColumns+` FROM albums
		WHERE family_id = $1 AND owner_user_id = $2 AND album_type = 'PERSON'
	`, album.FamilyID, album.OwnerUserID)
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Album, error) {
	var album Album
	err := r.db.GetContext(ctx, &album, `SELECT `+albumColumns+` FROM albums WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &album, nil
}

func (r *repository) GetByScheduleID(ctx context.Context, scheduleID int64) (*Album, error) {
	var album Album
	err := r.db.GetContext(ctx, &album, `
		SELECT `+albumColumns+` FROM albums WHERE schedule_id = $1 AND album_type = 'SCHEDULE'
	`, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &album, nil
}

func (r *repository) UpdateName(ctx context.Context, id uuid.UUID, name string) (*Album, error) {
	var album Album
	err := r.db.GetContext(ctx, &album, `
		UPDATE albums SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+albumColumns, id, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &album, nil
}

func (r *repository) RenamePersonAlbums(ctx context.Context, userID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE albums SET name = $2, updated_at = now()
		WHERE owner_user_id = $1 AND album_type = 'PERSON'
	`, userID, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) ([]string, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var locked uuid.UUID
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM albums WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlbumNotFound
		}
		return nil, err
	}

	var urls []string
	if err := tx.SelectContext(ctx, &urls, `DELETE FROM album_photos WHERE album_id = $1 RETURNING url`, id); err != nil {
		return nil, fmt.Errorf("delete album photos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM albums WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete album: %w", err)
	}

	orphaned, err := unreferencedURLs(ctx, tx, urls)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return orphaned, nil
}

func (r *repository) ListSummaries(ctx context.Context, familyID int64, types []AlbumType) ([]AlbumSummary, error) {
	query := `
		SELECT a.id, a.name, a.album_type, a.created_at,
		       (SELECT p.url FROM album_photos p WHERE p.album_id = a.id ORDER BY p.seq LIMIT 1) AS thumbnail_url,
		       (SELECT COUNT(*) FROM album_photos p WHERE p.album_id = a.id) AS photo_count
		FROM albums a
		WHERE a.family_id = $1 AND a.album_type = ANY($2)
		ORDER BY a.album_type, a.created_at, a.id
	`
	var summaries []AlbumSummary
	err := r.db.SelectContext(ctx, &summaries, query, familyID, pq.Array(typeStrings(types)))
	return summaries, err
}

func (r *repository) ListPhotos(ctx context.Context, albumID uuid.UUID) ([]Photo, error) {
	var photos []Photo
	err := r.db.SelectContext(ctx, &photos, `
		SELECT id, seq, album_id, url, parent_id, created_at
		FROM album_photos WHERE album_id = $1
		ORDER BY seq
	`, albumID)
	return photos, err
}

func (r *repository) ListPersonAlbums(ctx context.Context, familyID int64, userIDs []int64) ([]Album, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var albums []Album
	err := r.db.SelectContext(ctx, &albums, `
		SELECT `+albumColumns+` FROM albums
		WHERE family_id = $1 AND album_type = 'PERSON' AND owner_user_id = ANY($2)
	`, familyID, pq.Array(userIDs))
	return albums, err
}

func (r *repository) InsertPhotos(ctx context.Context, targetID uuid.UUID, originals, derived []Photo) (int, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Lock every album touched by the batch in a stable order.
	ids := map[uuid.UUID]struct{}{targetID: {}}
	for _, p := range derived {
		ids[p.AlbumID] = struct{}{}
	}
	var lockedIDs []uuid.UUID
	if err := tx.SelectContext(ctx, &lockedIDs, `
		SELECT id FROM albums WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE
	`, pq.Array(uuidStrings(keys(ids)))); err != nil {
		return 0, fmt.Errorf("lock albums: %w", err)
	}
	locked := make(map[uuid.UUID]bool, len(lockedIDs))
	for _, id := range lockedIDs {
		locked[id] = true
	}
	if !locked[targetID] {
		return 0, ErrAlbumNotFound
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO album_photos (id, album_id, url, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	// Originals first and one by one: seq order is the upload order.
	for _, p := range originals {
		if _, err := stmt.ExecContext(ctx, p.ID, p.AlbumID, p.URL, p.ParentID, p.CreatedAt); err != nil {
			return 0, fmt.Errorf("insert photo: %w", err)
		}
	}

	dropped := 0
	for _, p := range derived {
		if !locked[p.AlbumID] {
			dropped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.AlbumID, p.URL, p.ParentID, p.CreatedAt); err != nil {
			return 0, fmt.Errorf("insert derived photo: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return dropped, nil
}

func (r *repository) GetPhotosWithAlbums(ctx context.Context, ids []uuid.UUID) ([]PhotoWithAlbum, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var photos []PhotoWithAlbum
	err := r.db.SelectContext(ctx, &photos, `
		SELECT p.id, p.seq, p.album_id, p.url, p.parent_id, p.created_at, a.family_id AS album_family_id
		FROM album_photos p
		JOIN albums a ON a.id = p.album_id
		WHERE p.id = ANY($1::uuid[])
	`, pq.Array(uuidStrings(ids)))
	return photos, err
}

func (r *repository) DeletePhotos(ctx context.Context, albumID uuid.UUID, ids []uuid.UUID) ([]string, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var locked uuid.UUID
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM albums WHERE id = $1 FOR UPDATE`, albumID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlbumNotFound
		}
		return nil, err
	}

	var urls []string
	if err := tx.SelectContext(ctx, &urls, `
		DELETE FROM album_photos WHERE album_id = $1 AND id = ANY($2::uuid[]) RETURNING url
	`, albumID, pq.Array(uuidStrings(ids))); err != nil {
		return nil, fmt.Errorf("delete photos: %w", err)
	}
	if len(urls) != len(ids) {
		return nil, ErrPhotoNotFound
	}

	orphaned, err := unreferencedURLs(ctx, tx, urls)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return orphaned, nil
}

// unreferencedURLs filters urls down to those no photo row in the transaction's
// view still points at. Derived copies share the blob of their original.
func unreferencedURLs(ctx context.Context, tx *sqlx.Tx, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var orphaned []string
	err := tx.SelectContext(ctx, &orphaned, `
		SELECT DISTINCT u FROM unnest($1::text[]) AS u
		WHERE NOT EXISTS (SELECT 1 FROM album_photos p WHERE p.url = u)
		ORDER BY u
	`, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("find unreferenced urls: %w", err)
	}
	return orphaned, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrAlbumExists
	}
	return err
}

func typeStrings(types []AlbumType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func keys(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
