package mediacache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blobworks/mediavault/internal/models"
	"github.com/blobworks/mediavault/pkg/mediatype"
)

type fakeFetcher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeFetcher) RequestData(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeFetcher) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

type fakeProber struct {
	playable map[string]bool
}

func (p *fakeProber) CanPlay(mime string) bool { return p.playable[mime] }

func inlineBlob(id, mime string, size int64) models.MediaBlob {
	b := models.MediaBlob{Mime: mime, Size: size}
	b.ID = id
	return b
}

func diskBlob(id, mime, relPath string) models.MediaBlob {
	b := models.MediaBlob{Mime: mime, Size: 4096, LocalPath: &relPath}
	b.ID = id
	return b
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{}
	cfg.Fetcher = fetcher
	m := NewManager(cfg)
	t.Cleanup(m.Close)
	return m, fetcher
}

func TestApplyListingAutoFetchesInlineImagesOnly(t *testing.T) {
	m, fetcher := newTestManager(t, Config{BaseURL: "http://files.test/uploads"})

	m.ApplyListing([]models.MediaBlob{
		inlineBlob("img-1", "image/png", 100),
		inlineBlob("aud-1", "audio/mpeg", 100),
		diskBlob("img-2", "image/jpeg", "abc.jpg"),
	})

	// Preview round-trips the event loop, so earlier commands are applied.
	require.Equal(t, StateLoading, m.Preview("img-1").State)
	require.Equal(t, StateAbsent, m.Preview("aud-1").State)
	require.Equal(t, StateAbsent, m.Preview("img-2").State)
	require.Equal(t, []string{"img-1"}, fetcher.requested())
}

func TestApplyListingDoesNotRefetch(t *testing.T) {
	m, fetcher := newTestManager(t, Config{})

	listing := []models.MediaBlob{inlineBlob("img-1", "image/png", 100)}
	m.ApplyListing(listing)
	m.ApplyListing(listing)
	m.Preview("img-1")

	require.Equal(t, []string{"img-1"}, fetcher.requested())
}

func TestRequestDataIsIdempotentWhileLoading(t *testing.T) {
	m, fetcher := newTestManager(t, Config{})

	m.RequestData("blob-1")
	m.RequestData("blob-1")
	m.Preview("blob-1")
	require.Equal(t, []string{"blob-1"}, fetcher.requested())

	m.HandleData("blob-1", []byte("bytes"), "image/png")
	m.RequestData("blob-1")
	m.Preview("blob-1")
	require.Equal(t, []string{"blob-1"}, fetcher.requested(), "cached entries must not refetch")
}

func TestHandleDataMaterializesAndNotifies(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	var mu sync.Mutex
	var transitions []EntryState
	m.Subscribe(func(id string, state EntryState) {
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	m.RequestData("blob-1")
	m.HandleData("blob-1", []byte("payload"), "image/png")

	ds := m.Preview("blob-1")
	require.Equal(t, StateCached, ds.State)
	require.NotNil(t, ds.Resource)
	require.Equal(t, []byte("payload"), ds.Resource.Bytes())
	require.Equal(t, mediatype.CategoryImage, ds.Category)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EntryState{StateLoading, StateCached}, transitions)
}

func TestHandleErrorMarksEntry(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	m.RequestData("blob-1")
	m.HandleError("blob-1", errFake)
	require.Equal(t, StateError, m.Preview("blob-1").State)
}

func TestFlushDropsLateResults(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	m.RequestData("blob-1")
	m.Flush()
	m.HandleData("blob-1", []byte("too late"), "image/png")

	ds := m.Preview("blob-1")
	require.Equal(t, StateAbsent, ds.State)
	require.Nil(t, ds.Resource)
}

func TestFlushReleasesHandles(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	m.RequestData("blob-1")
	m.HandleData("blob-1", []byte("payload"), "image/png")
	res := m.Preview("blob-1").Resource
	require.NotNil(t, res)

	m.Flush()
	m.Preview("blob-1")
	require.Nil(t, res.Bytes(), "flushed handles must be released")
}

func TestPreviewDiskTierResolvesURL(t *testing.T) {
	m, _ := newTestManager(t, Config{BaseURL: "http://files.test/uploads"})

	m.ApplyListing([]models.MediaBlob{diskBlob("vid-1", "video/mp4", "abc.mp4")})

	ds := m.Preview("vid-1")
	require.Equal(t, TierDisk, ds.Tier)
	require.Equal(t, "http://files.test/uploads/abc.mp4", ds.URL)
	require.False(t, ds.Fallback)
}

func TestPreviewUnplayableVideoFallsBack(t *testing.T) {
	prober := &fakeProber{playable: map[string]bool{"video/mp4": true}}
	m, _ := newTestManager(t, Config{Prober: prober, BaseURL: "http://files.test/uploads"})

	m.ApplyListing([]models.MediaBlob{
		diskBlob("mov-1", "video/quicktime", "a.mov"),
		diskBlob("mp4-1", "video/mp4", "b.mp4"),
	})

	require.True(t, m.Preview("mov-1").Fallback)
	require.False(t, m.Preview("mp4-1").Fallback)
}

func TestPreviewInlineUncachedIsPlaceholder(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	m.ApplyListing([]models.MediaBlob{inlineBlob("aud-1", "audio/mpeg", 100)})

	ds := m.Preview("aud-1")
	require.Equal(t, TierInline, ds.Tier)
	require.True(t, ds.Placeholder)
	require.Nil(t, ds.Resource)
}

func TestEvictionReleasesLeastRecentlyUsed(t *testing.T) {
	m, _ := newTestManager(t, Config{BudgetBytes: 100})

	cache := func(id string) {
		m.RequestData(id)
		m.HandleData(id, make([]byte, 40), "image/png")
	}

	cache("a")
	cache("b")
	m.Preview("a") // touch a so b becomes the eviction candidate
	cache("c")

	require.Equal(t, StateCached, m.Preview("a").State)
	require.Equal(t, StateAbsent, m.Preview("b").State)
	require.Equal(t, StateCached, m.Preview("c").State)
}

var errFake = &fetchError{"fetch failed"}

type fetchError struct{ msg string }

func (e *fetchError) Error() string { return e.msg }
