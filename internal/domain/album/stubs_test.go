package album

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/familring/album-service/internal/pkg/classification"
	"github.com/familring/album-service/internal/pkg/family"
	"github.com/familring/album-service/internal/pkg/imaging"
	"github.com/familring/album-service/internal/pkg/storage"
	"github.com/familring/album-service/internal/pkg/upstream"
	"github.com/familring/album-service/internal/pkg/userdir"
)

// memRepo is an in-memory Repository with the same observable semantics as the sqlx one.
type memRepo struct {
	mu      sync.Mutex
	albums  map[uuid.UUID]*Album
	order   []uuid.UUID
	photos  []Photo
	seq     int64
	failIns error
}

func newMemRepo() *memRepo {
	return &memRepo{albums: map[uuid.UUID]*Album{}}
}

func (m *memRepo) add(a *Album) *Album {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.albums[a.ID] = a
	m.order = append(m.order, a.ID)
	return a
}

func (m *memRepo) addPhoto(albumID uuid.UUID, url string) Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p := Photo{ID: uuid.New(), Seq: m.seq, AlbumID: albumID, URL: url}
	m.photos = append(m.photos, p)
	return p
}

func (m *memRepo) photosIn(albumID uuid.UUID) []Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Photo
	for _, p := range m.photos {
		if p.AlbumID == albumID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (m *memRepo) conflicts(a *Album) bool {
	for _, existing := range m.albums {
		if a.Type == AlbumTypePerson && existing.Type == AlbumTypePerson &&
			existing.FamilyID == a.FamilyID && existing.OwnerUserID == a.OwnerUserID {
			return true
		}
		if a.Type == AlbumTypeSchedule && existing.Type == AlbumTypeSchedule && existing.ScheduleID == a.ScheduleID {
			return true
		}
	}
	return false
}

func (m *memRepo) Create(_ context.Context, a *Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(a) {
		return ErrAlbumExists
	}
	copied := *a
	m.albums[a.ID] = &copied
	m.order = append(m.order, a.ID)
	return nil
}

func (m *memRepo) CreatePersonIfAbsent(_ context.Context, a *Album) (*Album, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.albums {
		if existing.Type == AlbumTypePerson && existing.FamilyID == a.FamilyID && existing.OwnerUserID == a.OwnerUserID {
			copied := *existing
			return &copied, false, nil
		}
	}
	copied := *a
	m.albums[a.ID] = &copied
	m.order = append(m.order, a.ID)
	return a, true, nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.albums[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *memRepo) GetByScheduleID(_ context.Context, scheduleID int64) (*Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.albums {
		if a.Type == AlbumTypeSchedule && a.ScheduleID.Int64 == scheduleID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memRepo) UpdateName(_ context.Context, id uuid.UUID, name string) (*Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return nil, nil
	}
	a.Name = name
	copied := *a
	return &copied, nil
}

func (m *memRepo) RenamePersonAlbums(_ context.Context, userID int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.albums {
		if a.Type == AlbumTypePerson && a.OwnerUserID.Int64 == userID {
			a.Name = name
			n++
		}
	}
	return n, nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.albums[id]; !ok {
		return nil, ErrAlbumNotFound
	}
	var urls []string
	kept := m.photos[:0]
	for _, p := range m.photos {
		if p.AlbumID == id {
			urls = append(urls, p.URL)
			continue
		}
		kept = append(kept, p)
	}
	m.photos = kept
	delete(m.albums, id)
	return m.unreferenced(urls), nil
}

func (m *memRepo) unreferenced(urls []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		referenced := false
		for _, p := range m.photos {
			if p.URL == u {
				referenced = true
				break
			}
		}
		if !referenced {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memRepo) ListSummaries(_ context.Context, familyID int64, types []AlbumType) ([]AlbumSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[AlbumType]bool{}
	for _, t := range types {
		wanted[t] = true
	}
	var out []AlbumSummary
	for _, id := range m.order {
		a, ok := m.albums[id]
		if !ok || a.FamilyID != familyID || !wanted[a.Type] {
			continue
		}
		s := AlbumSummary{ID: a.ID, Name: a.Name, Type: a.Type}
		var first *Photo
		for i := range m.photos {
			if m.photos[i].AlbumID == a.ID {
				s.PhotoCount++
				if first == nil || m.photos[i].Seq < first.Seq {
					first = &m.photos[i]
				}
			}
		}
		if first != nil {
			s.ThumbnailURL.String, s.ThumbnailURL.Valid = first.URL, true
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memRepo) ListPhotos(_ context.Context, albumID uuid.UUID) ([]Photo, error) {
	return m.photosIn(albumID), nil
}

func (m *memRepo) ListPersonAlbums(_ context.Context, familyID int64, userIDs []int64) ([]Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range userIDs {
		wanted[id] = true
	}
	var out []Album
	for _, a := range m.albums {
		if a.Type == AlbumTypePerson && a.FamilyID == familyID && wanted[a.OwnerUserID.Int64] {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) InsertPhotos(_ context.Context, targetID uuid.UUID, originals, derived []Photo) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIns != nil {
		return 0, m.failIns
	}
	if _, ok := m.albums[targetID]; !ok {
		return 0, ErrAlbumNotFound
	}
	dropped := 0
	for _, p := range append(append([]Photo{}, originals...), derived...) {
		if _, ok := m.albums[p.AlbumID]; !ok {
			dropped++
			continue
		}
		m.seq++
		p.Seq = m.seq
		m.photos = append(m.photos, p)
	}
	return dropped, nil
}

func (m *memRepo) GetPhotosWithAlbums(_ context.Context, ids []uuid.UUID) ([]PhotoWithAlbum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []PhotoWithAlbum
	for _, p := range m.photos {
		if wanted[p.ID] {
			out = append(out, PhotoWithAlbum{Photo: p, AlbumFamilyID: m.albums[p.AlbumID].FamilyID})
		}
	}
	return out, nil
}

func (m *memRepo) DeletePhotos(_ context.Context, albumID uuid.UUID, ids []uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var urls []string
	kept := make([]Photo, 0, len(m.photos))
	for _, p := range m.photos {
		if p.AlbumID == albumID && wanted[p.ID] {
			urls = append(urls, p.URL)
			continue
		}
		kept = append(kept, p)
	}
	if len(urls) != len(ids) {
		return nil, ErrPhotoNotFound
	}
	m.photos = kept
	return m.unreferenced(urls), nil
}

// stubDirectory resolves families from fixed maps.
type stubDirectory struct {
	familyOf   map[int64]int64
	members    map[int64][]family.Member
	membersErr error
	lookups    int
}

func (d *stubDirectory) GetFamilyID(_ context.Context, userID int64) (int64, error) {
	d.lookups++
	id, ok := d.familyOf[userID]
	if !ok {
		return 0, family.ErrNoFamily
	}
	return id, nil
}

func (d *stubDirectory) GetFamilyMembers(_ context.Context, userID int64) ([]family.Member, error) {
	if d.membersErr != nil {
		return nil, d.membersErr
	}
	id, ok := d.familyOf[userID]
	if !ok {
		return nil, family.ErrNoFamily
	}
	return d.members[id], nil
}

// cachedStubDirectory serves a remembered family until Forget is called.
type cachedStubDirectory struct {
	*stubDirectory
	cached    map[int64]int64
	forgot    []int64
	forgetErr error
}

func (d *cachedStubDirectory) GetFamilyID(ctx context.Context, userID int64) (int64, error) {
	if id, ok := d.cached[userID]; ok {
		return id, nil
	}
	id, err := d.stubDirectory.GetFamilyID(ctx, userID)
	if err == nil {
		d.cached[userID] = id
	}
	return id, err
}

func (d *cachedStubDirectory) Forget(_ context.Context, userID int64) error {
	if d.forgetErr != nil {
		return d.forgetErr
	}
	d.forgot = append(d.forgot, userID)
	delete(d.cached, userID)
	return nil
}

type stubUsers struct {
	users map[int64]string
	err   error
}

func (u *stubUsers) GetUser(_ context.Context, userID int64) (*userdir.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	name, ok := u.users[userID]
	if !ok {
		return nil, userdir.ErrUserNotFound
	}
	return &userdir.User{UserID: userID, Nickname: name}, nil
}

// stubBlobs issues deterministic URLs and records deletions.
type stubBlobs struct {
	mu        sync.Mutex
	uploadErr error
	// partial is how many payloads are stored before uploadErr is returned.
	partial   int
	deleteErr error
	prefixes  []string
	uploaded  []string
	deletes   [][]string
	counter   int
}

func (b *stubBlobs) UploadFiles(_ context.Context, payloads []storage.Payload, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := len(payloads)
	if b.uploadErr != nil {
		stored = min(b.partial, len(payloads))
	}
	b.prefixes = append(b.prefixes, prefix)
	urls := make([]string, stored)
	for i, p := range payloads[:stored] {
		b.counter++
		urls[i] = "https://cdn.test/" + prefix + "/" + strings.TrimSpace(string(p.Data[3:])) + p.Ext
	}
	b.uploaded = append(b.uploaded, urls...)
	return urls, b.uploadErr
}

func (b *stubBlobs) DeleteFiles(_ context.Context, urls []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, append([]string(nil), urls...))
	return b.deleteErr
}

// stubScorer answers from a table keyed by URL.
type stubScorer struct {
	scores map[string]map[int64]float64
	err    error
	calls  []classification.Request
}

func (s *stubScorer) CalculateSimilarity(_ context.Context, req classification.Request) ([]classification.Result, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	results := make([]classification.Result, len(req.TargetImages))
	for i, u := range req.TargetImages {
		results[i] = classification.Result{ImageURL: u, Similarities: s.scores[u], FaceCount: len(s.scores[u])}
	}
	return results, nil
}

// passthroughNormalizer accepts every payload as a JPEG.
type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(data []byte) (*imaging.Image, error) {
	return &imaging.Image{Data: data, ContentType: "image/jpeg", Ext: ".jpg"}, nil
}

// jpeg returns a payload sniffed as image/jpeg whose stub URL ends with name.
func jpeg(name string) Upload {
	return Upload{Filename: name + ".jpg", Data: append([]byte("\xff\xd8\xff"), name...)}
}

var errFamilyDown = &upstream.Error{Collaborator: "family-service", StatusCode: 503}

var errBoom = errors.New("boom")
