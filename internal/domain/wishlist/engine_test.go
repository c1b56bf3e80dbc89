package wishlist

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/venkat-express/internal/domain/identity"
	"github.com/xenking/venkat-express/internal/domain/snapshot"
	"github.com/xenking/venkat-express/internal/storage/memory"
)

// --- Mock implementations ---

// readOnlyDocs rejects every write.
type readOnlyDocs struct {
	*memory.Documents
}

func (readOnlyDocs) Put(context.Context, string, string, []byte) error {
	return errors.New("permission denied")
}

// flakyDocs fails the first failures calls to Get. A negative count fails
// every call.
type flakyDocs struct {
	*memory.Documents
	failures atomic.Int32
}

func (f *flakyDocs) Get(ctx context.Context, collection, userID string) ([]byte, error) {
	if n := f.failures.Load(); n != 0 {
		if n > 0 {
			f.failures.Add(-1)
		}
		return nil, errors.New("deadline exceeded")
	}
	return f.Documents.Get(ctx, collection, userID)
}

// gatedDocs blocks Get until gate is closed and signals entered when a Get
// starts waiting.
type gatedDocs struct {
	*memory.Documents
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedDocs) Get(ctx context.Context, collection, userID string) ([]byte, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Documents.Get(ctx, collection, userID)
}

// slowDocs blocks Put until release is closed.
type slowDocs struct {
	*memory.Documents
	release chan struct{}
}

func (s *slowDocs) Put(ctx context.Context, collection, userID string, doc []byte) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Documents.Put(ctx, collection, userID, doc)
}

// --- Helpers ---

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func candidate(id string) Candidate {
	return Candidate{
		ProductID: id,
		Title:     "Product " + id,
		UnitPrice: decimal.RequireFromString("99.90"),
		Image:     id + ".jpg",
	}
}

type fixture struct {
	local *memory.Local
	docs  *memory.Documents
	ident *identity.Broadcaster
}

func newFixture() *fixture {
	return &fixture{
		local: memory.NewLocal(),
		docs:  memory.NewDocuments(),
		ident: identity.NewBroadcaster(identity.Anonymous()),
	}
}

func (f *fixture) open(t *testing.T, remote snapshot.Documents, onWrite func(snapshot.WriteResult)) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Local:         f.local,
		Remote:        remote,
		Identity:      f.ident,
		Now:           func() time.Time { return fixedNow },
		OnRemoteWrite: onWrite,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func (f *fixture) guestStored(t *testing.T) bool {
	t.Helper()
	_, ok, err := f.local.Read(GuestKey)
	require.NoError(t, err)
	return ok
}

func seedRemote(t *testing.T, docs snapshot.Documents, userID string, entries ...Entry) {
	t.Helper()
	data, err := Codec{}.Encode(entries)
	require.NoError(t, err)
	require.NoError(t, docs.Put(context.Background(), Collection, userID, data))
}

func remoteEntries(t *testing.T, docs snapshot.Documents, userID string) ([]Entry, bool) {
	t.Helper()
	entries, found, err := snapshot.NewReplica[Entry](docs, Collection, Codec{}).Get(context.Background(), userID)
	require.NoError(t, err)
	return entries, found
}

func productIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.ProductID)
	}
	return ids
}

// --- Tests ---

func TestEngine_GuestMutations(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)

	assert.Equal(t, OutcomeAdded, e.Add(candidate("p1")))
	assert.Equal(t, OutcomeAlreadyPresent, e.Add(candidate("p1")))
	assert.Equal(t, OutcomeAdded, e.Toggle(candidate("p2")))
	assert.Equal(t, 2, e.Count())
	assert.True(t, e.Has("p2"))

	assert.Equal(t, OutcomeRemoved, e.Toggle(candidate("p2")))
	assert.False(t, e.Has("p2"))
	assert.Equal(t, OutcomeRemoved, e.Remove("missing"))

	entries := e.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, fixedNow, entries[0].AddedAt)

	restored := f.open(t, f.docs, nil)
	assert.Equal(t, []string{"p1"}, productIDs(restored.Entries()), "guest list survives restart")
	assert.Equal(t, fixedNow, restored.Entries()[0].AddedAt)
}

func TestEngine_SignInRemoteWinsAndDiscardsGuest(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	e.Add(candidate("guest"))

	seedRemote(t, f.docs, "u1", candidate("saved").entry(fixedNow))
	require.NoError(t, f.ident.SignIn("u1"))

	assert.Equal(t, []string{"saved"}, productIDs(e.Entries()))
	assert.False(t, f.guestStored(t), "guest list discarded")

	f.ident.SignOut()
	assert.Empty(t, e.Entries())
}

func TestEngine_SignInEmptyRemoteWins(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	e.Add(candidate("guest"))

	seedRemote(t, f.docs, "u1")
	require.NoError(t, f.ident.SignIn("u1"))

	assert.Empty(t, e.Entries())
	assert.False(t, f.guestStored(t))
}

func TestEngine_SignInMigratesGuest(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	e.Add(candidate("g1"))
	e.Add(candidate("g2"))

	require.NoError(t, f.ident.SignIn("u1"))
	assert.Equal(t, []string{"g1", "g2"}, productIDs(e.Entries()))

	require.Eventually(t, func() bool {
		return !f.guestStored(t)
	}, time.Second, 5*time.Millisecond, "guest key removed after migration")

	entries, found := remoteEntries(t, f.docs, "u1")
	require.True(t, found)
	assert.Equal(t, []string{"g1", "g2"}, productIDs(entries))
	assert.Equal(t, fixedNow, entries[0].AddedAt, "addedAt preserved")
}

func TestEngine_SignInUnreadableRemoteMigratesGuest(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	e.Add(candidate("g1"))
	require.NoError(t, f.docs.Put(context.Background(), Collection, "u1", []byte(`{broken`)))

	require.NoError(t, f.ident.SignIn("u1"))
	assert.Equal(t, []string{"g1"}, productIDs(e.Entries()))

	require.Eventually(t, func() bool {
		return !f.guestStored(t)
	}, time.Second, 5*time.Millisecond)
	entries, found := remoteEntries(t, f.docs, "u1")
	require.True(t, found)
	assert.Equal(t, []string{"g1"}, productIDs(entries))
}

func TestEngine_FailedMigrationKeepsGuest(t *testing.T) {
	f := newFixture()
	results := make(chan snapshot.WriteResult, 1)
	e := f.open(t, readOnlyDocs{f.docs}, func(res snapshot.WriteResult) { results <- res })
	e.Add(candidate("g1"))

	require.NoError(t, f.ident.SignIn("u1"))
	select {
	case res := <-results:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("migration not attempted")
	}
	e.Close()

	assert.True(t, f.guestStored(t), "guest list kept for the next sign-in")
	assert.Equal(t, []string{"g1"}, productIDs(e.Entries()))
}

func TestEngine_FetchFailureKeepsGuest(t *testing.T) {
	f := newFixture()
	docs := &flakyDocs{Documents: f.docs}
	docs.failures.Store(-1)
	seedRemote(t, f.docs, "u1", candidate("saved").entry(fixedNow))
	e := f.open(t, docs, nil)
	e.Add(candidate("g1"))

	require.NoError(t, f.ident.SignIn("u1"))
	assert.Equal(t, []string{"g1"}, productIDs(e.Entries()))

	assert.Equal(t, OutcomeAdded, e.Add(candidate("x")))
	e.Close()

	assert.Equal(t, []string{"g1", "x"}, productIDs(e.Entries()))
	assert.True(t, f.guestStored(t))
	entries, found := remoteEntries(t, f.docs, "u1")
	require.True(t, found)
	assert.Equal(t, []string{"saved"}, productIDs(entries), "unseen remote list not overwritten")
}

func TestEngine_FetchRetriedOnNextChange(t *testing.T) {
	f := newFixture()
	docs := &flakyDocs{Documents: f.docs}
	docs.failures.Store(1)
	seedRemote(t, f.docs, "u1", candidate("saved").entry(fixedNow))
	e := f.open(t, docs, nil)
	e.Add(candidate("g1"))

	require.NoError(t, f.ident.SignIn("u1"))
	e.Add(candidate("x"))

	require.Eventually(t, func() bool {
		entries, _ := remoteEntries(t, f.docs, "u1")
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)
	entries, _ := remoteEntries(t, f.docs, "u1")
	assert.Equal(t, []string{"saved", "x"}, productIDs(entries))
	assert.Equal(t, []string{"saved", "x"}, productIDs(e.Entries()))
	assert.False(t, f.guestStored(t), "guest list discarded")
}

func TestEngine_ChangeDuringSignInKeepsRemote(t *testing.T) {
	f := newFixture()
	docs := &gatedDocs{Documents: f.docs, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	seedRemote(t, f.docs, "u1", candidate("saved").entry(fixedNow))
	e := f.open(t, docs, nil)
	e.Add(candidate("guest"))

	signedIn := make(chan error, 1)
	go func() { signedIn <- f.ident.SignIn("u1") }()
	select {
	case <-docs.entered:
	case <-time.After(time.Second):
		t.Fatal("remote wishlist not fetched")
	}

	assert.Equal(t, OutcomeAdded, e.Toggle(candidate("x")))
	assert.Equal(t, []string{"guest", "x"}, productIDs(e.Entries()))
	entries, _ := remoteEntries(t, f.docs, "u1")
	assert.Equal(t, []string{"saved"}, productIDs(entries), "nothing written before the fetch completes")

	close(docs.gate)
	require.NoError(t, <-signedIn)

	assert.Equal(t, []string{"saved", "x"}, productIDs(e.Entries()), "remote wins, changes replayed on top")
	assert.False(t, f.guestStored(t))
	require.Eventually(t, func() bool {
		entries, _ := remoteEntries(t, f.docs, "u1")
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)
	entries, _ = remoteEntries(t, f.docs, "u1")
	assert.Equal(t, []string{"saved", "x"}, productIDs(entries))
}

func TestEngine_MigrationLandingAfterSignOutClearsGuest(t *testing.T) {
	f := newFixture()
	docs := &slowDocs{Documents: f.docs, release: make(chan struct{})}
	e := f.open(t, docs, nil)
	e.Add(candidate("g1"))

	require.NoError(t, f.ident.SignIn("u1"))
	f.ident.SignOut()
	e.Add(candidate("g2"))
	assert.Equal(t, []string{"g1", "g2"}, productIDs(e.Entries()))

	close(docs.release)
	require.Eventually(t, func() bool {
		return len(e.Entries()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"g2"}, productIDs(e.Entries()), "migrated entries leave the guest list")
	guest := snapshot.NewSlot[Entry](f.local, GuestKey, Codec{}, nil).Load()
	assert.Equal(t, []string{"g2"}, productIDs(guest))
	entries, found := remoteEntries(t, f.docs, "u1")
	require.True(t, found)
	assert.Equal(t, []string{"g1"}, productIDs(entries))
}

func TestEngine_SignedInMutationsSkipGuestKey(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	seedRemote(t, f.docs, "u1")
	require.NoError(t, f.ident.SignIn("u1"))

	assert.Equal(t, OutcomeAdded, e.Add(candidate("p1")))
	assert.Equal(t, OutcomeAdded, e.Toggle(candidate("p2")))
	assert.False(t, f.guestStored(t))

	require.Eventually(t, func() bool {
		entries, _ := remoteEntries(t, f.docs, "u1")
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)

	f.ident.SignOut()
	assert.Empty(t, e.Entries(), "user list stays remote")
	assert.False(t, f.guestStored(t))
}

func TestEngine_RemotePushApplied(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	require.NoError(t, f.ident.SignIn("u1"))
	require.Equal(t, 1, f.docs.Watchers(Collection, "u1"))

	seedRemote(t, f.docs, "u1", candidate("elsewhere").entry(fixedNow))
	assert.Equal(t, []string{"elsewhere"}, productIDs(e.Entries()))
	assert.False(t, f.guestStored(t))
}

func TestEngine_CloseTearsDown(t *testing.T) {
	f := newFixture()
	e := f.open(t, f.docs, nil)
	seedRemote(t, f.docs, "u1")
	require.NoError(t, f.ident.SignIn("u1"))
	e.Add(candidate("p1"))

	e.Close()
	e.Close()

	assert.Zero(t, f.docs.Watchers(Collection, "u1"))
	entries, _ := remoteEntries(t, f.docs, "u1")
	assert.Equal(t, []string{"p1"}, productIDs(entries), "queued writes flushed")
}
