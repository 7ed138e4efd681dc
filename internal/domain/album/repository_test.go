package album

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapWriteError(t *testing.T) {
	assert.NoError(t, mapWriteError(nil))
	assert.ErrorIs(t, mapWriteError(&pq.Error{Code: "23505"}), ErrAlbumExists)
	assert.ErrorIs(t, mapWriteError(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})), ErrAlbumExists)

	fk := &pq.Error{Code: "23503"}
	assert.Equal(t, fk, mapWriteError(fk))
	assert.False(t, errors.Is(mapWriteError(errBoom), ErrAlbumExists))
}

func TestKeysAreSorted(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, []uuid.UUID{b, a}, keys(map[uuid.UUID]struct{}{a: {}, b: {}}))
}

// openTestDB connects to TEST_DATABASE_URL and applies the schema on a clean slate.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	down, err := os.ReadFile("../../../migrations/001_albums.down.sql")
	require.NoError(t, err)
	up, err := os.ReadFile("../../../migrations/001_albums.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(down))
	require.NoError(t, err)
	_, err = db.Exec(string(up))
	require.NoError(t, err)
	return db
}

func newAlbum(familyID int64, t AlbumType, name string) *Album {
	now := time.Now().UTC()
	return &Album{ID: uuid.New(), FamilyID: familyID, Name: name, Type: t, CreatedAt: now, UpdatedAt: now}
}

func TestRepositoryPostgres(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	target := newAlbum(1, AlbumTypeNormal, "Holidays")
	require.NoError(t, repo.Create(ctx, target))

	person := newAlbum(1, AlbumTypePerson, PersonAlbumName("mom"))
	person.OwnerUserID = sql.NullInt64{Int64: 11, Valid: true}
	got, created, err := repo.CreatePersonIfAbsent(ctx, person)
	require.NoError(t, err)
	assert.True(t, created)

	again := newAlbum(1, AlbumTypePerson, "other")
	again.OwnerUserID = person.OwnerUserID
	got, created, err = repo.CreatePersonIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, person.ID, got.ID)
	assert.ErrorIs(t, repo.Create(ctx, again), ErrAlbumExists)

	schedule := newAlbum(1, AlbumTypeSchedule, "Picnic")
	schedule.ScheduleID = sql.NullInt64{Int64: 7, Valid: true}
	require.NoError(t, repo.Create(ctx, schedule))
	dup := newAlbum(2, AlbumTypeSchedule, "Picnic")
	dup.ScheduleID = schedule.ScheduleID
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrAlbumExists)

	byID, err := repo.GetByScheduleID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, schedule.ID, byID.ID)

	now := time.Now().UTC()
	p1 := Photo{ID: uuid.New(), AlbumID: target.ID, URL: "https://cdn.test/1.jpg", CreatedAt: now}
	p2 := Photo{ID: uuid.New(), AlbumID: target.ID, URL: "https://cdn.test/2.jpg", CreatedAt: now}
	copy1 := Photo{ID: uuid.New(), AlbumID: person.ID, URL: p1.URL, ParentID: uuid.NullUUID{UUID: p1.ID, Valid: true}, CreatedAt: now}
	gone := Photo{ID: uuid.New(), AlbumID: uuid.New(), URL: p2.URL, ParentID: uuid.NullUUID{UUID: p2.ID, Valid: true}, CreatedAt: now}

	dropped, err := repo.InsertPhotos(ctx, target.ID, []Photo{p1, p2}, []Photo{copy1, gone})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	photos, err := repo.ListPhotos(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, p1.ID, photos[0].ID)
	assert.Equal(t, p2.ID, photos[1].ID)
	assert.Less(t, photos[0].Seq, photos[1].Seq)

	summaries, err := repo.ListSummaries(ctx, 1, AllAlbumTypes)
	require.NoError(t, err)
	for _, s := range summaries {
		if s.ID == target.ID {
			assert.Equal(t, 2, s.PhotoCount)
			assert.Equal(t, p1.URL, s.ThumbnailURL.String)
		}
	}

	withAlbums, err := repo.GetPhotosWithAlbums(ctx, []uuid.UUID{copy1.ID})
	require.NoError(t, err)
	require.Len(t, withAlbums, 1)
	assert.Equal(t, int64(1), withAlbums[0].AlbumFamilyID)

	_, err = repo.DeletePhotos(ctx, target.ID, []uuid.UUID{p1.ID, uuid.New()})
	assert.ErrorIs(t, err, ErrPhotoNotFound)

	// p1's blob is still used by the derived copy.
	urls, err := repo.DeletePhotos(ctx, target.ID, []uuid.UUID{p1.ID})
	require.NoError(t, err)
	assert.Empty(t, urls)

	urls, err = repo.Delete(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{p1.URL}, urls)

	_, err = repo.Delete(ctx, person.ID)
	assert.ErrorIs(t, err, ErrAlbumNotFound)

	n, err := repo.RenamePersonAlbums(ctx, 11, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}
