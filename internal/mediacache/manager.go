package mediacache

import (
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/internal/models"
	"github.com/blobworks/mediavault/pkg/logger"
	"github.com/blobworks/mediavault/pkg/mediatype"
)

// EntryState tracks one blob through the cache lifecycle.
type EntryState string

const (
	StateAbsent  EntryState = "absent"
	StateLoading EntryState = "loading"
	StateCached  EntryState = "cached"
	StateError   EntryState = "error"
)

// DefaultBudgetBytes bounds the total size of cached payloads.
const DefaultBudgetBytes = 64 << 20 // 64 MiB

// DataFetcher issues an asynchronous fetch for a blob's bytes. The
// implementation must not block; completion is reported back through
// Manager.HandleData or Manager.HandleError.
type DataFetcher interface {
	RequestData(id string)
}

// CapabilityProber reports whether a media type can be rendered natively.
// Unplayable video falls back to a download affordance.
type CapabilityProber interface {
	CanPlay(mime string) bool
}

// Resource is an owned handle to materialized blob bytes. Releasing it is
// the cache's job; consumers only read.
type Resource struct {
	ID   string
	Mime string

	data     []byte
	released bool
}

// Bytes returns the materialized payload, or nil after release.
func (r *Resource) Bytes() []byte {
	if r == nil || r.released {
		return nil
	}
	return r.data
}

// Release drops the payload. Safe to call more than once.
func (r *Resource) Release() {
	if r == nil {
		return
	}
	r.released = true
	r.data = nil
}

// DisplayState is everything a renderer needs to preview one blob.
type DisplayState struct {
	ID       string
	State    EntryState
	Tier     Tier
	Category mediatype.Category

	// URL is set for disk-tier blobs, which are previewed directly.
	URL string
	// Resource is set for cached inline-tier blobs.
	Resource *Resource
	// Placeholder marks an inline blob whose bytes are not cached yet;
	// activating the placeholder triggers the fetch.
	Placeholder bool
	// Fallback marks media the environment cannot play; render a download
	// affordance instead of a broken player.
	Fallback bool
}

// Tier mirrors where the blob's bytes live.
type Tier string

const (
	TierInline Tier = "inline"
	TierDisk   Tier = "disk"
)

type entry struct {
	id       string
	mime     string
	tier     Tier
	url      string
	state    EntryState
	res      *Resource
	size     int64
	lastUsed uint64
	err      error
}

// Config wires the manager's collaborators.
type Config struct {
	Fetcher DataFetcher
	Prober  CapabilityProber
	// BaseURL resolves disk-tier relative paths to direct URLs.
	BaseURL     string
	BudgetBytes int64
}

// Manager caches inline-tier blob bytes for rendering. All state lives on a
// single event-loop goroutine: every exported method is non-blocking except
// Preview, which round-trips one message through the loop. Subscriber
// callbacks run on the loop goroutine and must not block.
type Manager struct {
	cfg  Config
	cmds chan func()
	done chan struct{}
	log  *zap.Logger

	entries     map[string]*entry
	subscribers []func(id string, state EntryState)
	usedBytes   int64
	tick        uint64
}

// NewManager starts the cache event loop.
func NewManager(cfg Config) *Manager {
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = DefaultBudgetBytes
	}
	m := &Manager{
		cfg:     cfg,
		cmds:    make(chan func(), 128),
		done:    make(chan struct{}),
		log:     logger.WithModule("mediacache"),
		entries: make(map[string]*entry),
	}
	go m.loop()
	return m
}

// Close stops the event loop and releases every handle.
func (m *Manager) Close() {
	m.post(func() {
		m.flushLocked()
		close(m.done)
	})
}

// Subscribe registers a callback for entry state transitions.
func (m *Manager) Subscribe(fn func(id string, state EntryState)) {
	m.post(func() {
		m.subscribers = append(m.subscribers, fn)
	})
}

// ApplyListing reconciles the cache against a fresh listing snapshot.
// Inline-tier images that are not yet present fetch automatically; disk-tier
// entries never fetch, they are previewed by URL.
func (m *Manager) ApplyListing(items []models.MediaBlob) {
	snapshot := make([]models.MediaBlob, len(items))
	copy(snapshot, items)

	m.post(func() {
		for i := range snapshot {
			item := &snapshot[i]
			e := m.entries[item.ID]
			if e == nil {
				e = &entry{id: item.ID, state: StateAbsent}
				m.entries[item.ID] = e
			}
			e.mime = item.Mime
			e.size = item.Size
			if item.LocalPath != nil && *item.LocalPath != "" {
				e.tier = TierDisk
				e.url = item.ResolveURL(m.cfg.BaseURL)
			} else {
				e.tier = TierInline
			}

			autoFetch := e.tier == TierInline &&
				mediatype.CategoryOf(e.mime) == mediatype.CategoryImage &&
				e.state == StateAbsent
			if autoFetch {
				m.beginFetchLocked(e)
			}
		}
	})
}

// RequestData fetches an inline blob's bytes. Loading and cached entries are
// left alone.
func (m *Manager) RequestData(id string) {
	m.post(func() {
		e := m.entries[id]
		if e == nil {
			e = &entry{id: id, state: StateAbsent, tier: TierInline}
			m.entries[id] = e
		}
		if e.state == StateLoading || e.state == StateCached {
			return
		}
		m.beginFetchLocked(e)
	})
}

// HandleData completes a fetch. Results for entries that are no longer
// loading (flushed or evicted in the meantime) are dropped.
func (m *Manager) HandleData(id string, data []byte, mime string) {
	owned := make([]byte, len(data))
	copy(owned, data)

	m.post(func() {
		e := m.entries[id]
		if e == nil || e.state != StateLoading {
			return
		}
		if mime != "" {
			e.mime = mime
		}
		e.res = &Resource{ID: id, Mime: e.mime, data: owned}
		e.size = int64(len(owned))
		e.state = StateCached
		e.err = nil
		e.lastUsed = m.nextTick()
		m.usedBytes += e.size
		m.evictOverBudgetLocked(e.id)
		m.notifyLocked(id, StateCached)
	})
}

// HandleError marks a failed fetch.
func (m *Manager) HandleError(id string, err error) {
	m.post(func() {
		e := m.entries[id]
		if e == nil || e.state != StateLoading {
			return
		}
		e.state = StateError
		e.err = err
		m.log.Warn("fetch failed", zap.String("id", id), zap.Error(err))
		m.notifyLocked(id, StateError)
	})
}

// Preview resolves the display state for one blob.
func (m *Manager) Preview(id string) DisplayState {
	reply := make(chan DisplayState, 1)
	m.post(func() {
		reply <- m.previewLocked(id)
	})
	select {
	case ds := <-reply:
		return ds
	case <-m.done:
		return DisplayState{ID: id, State: StateAbsent}
	}
}

// Flush releases every handle and resets all states. In-flight fetches are
// not cancelled; their results are dropped on arrival.
func (m *Manager) Flush() {
	m.post(m.flushLocked)
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.done:
			return
		case cmd := <-m.cmds:
			cmd()
		}
	}
}

func (m *Manager) post(cmd func()) {
	select {
	case <-m.done:
	case m.cmds <- cmd:
	}
}

func (m *Manager) beginFetchLocked(e *entry) {
	if m.cfg.Fetcher == nil {
		return
	}
	e.state = StateLoading
	e.err = nil
	m.cfg.Fetcher.RequestData(e.id)
	m.notifyLocked(e.id, StateLoading)
}

func (m *Manager) previewLocked(id string) DisplayState {
	e := m.entries[id]
	if e == nil {
		return DisplayState{ID: id, State: StateAbsent}
	}

	e.lastUsed = m.nextTick()
	ds := DisplayState{
		ID:       e.id,
		State:    e.state,
		Tier:     e.tier,
		Category: mediatype.CategoryOf(e.mime),
	}

	if ds.Category == mediatype.CategoryVideo && m.cfg.Prober != nil && !m.cfg.Prober.CanPlay(e.mime) {
		ds.Fallback = true
		return ds
	}

	switch e.tier {
	case TierDisk:
		ds.URL = e.url
	case TierInline:
		if e.state == StateCached {
			ds.Resource = e.res
		} else {
			ds.Placeholder = true
		}
	}
	return ds
}

// evictOverBudgetLocked releases least-recently-used cached entries until
// the byte budget holds. The entry named by keep is exempt so a fresh
// result cannot evict itself.
func (m *Manager) evictOverBudgetLocked(keep string) {
	for m.usedBytes > m.cfg.BudgetBytes {
		var victim *entry
		for _, e := range m.entries {
			if e.state != StateCached || e.id == keep {
				continue
			}
			if victim == nil || e.lastUsed < victim.lastUsed {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		m.releaseLocked(victim)
		m.notifyLocked(victim.id, StateAbsent)
	}
}

func (m *Manager) releaseLocked(e *entry) {
	if e.state == StateCached {
		m.usedBytes -= e.size
	}
	if e.res != nil {
		e.res.Release()
		e.res = nil
	}
	e.state = StateAbsent
	e.err = nil
}

func (m *Manager) flushLocked() {
	for _, e := range m.entries {
		m.releaseLocked(e)
	}
	m.usedBytes = 0
}

func (m *Manager) notifyLocked(id string, state EntryState) {
	for _, fn := range m.subscribers {
		fn(id, state)
	}
}

func (m *Manager) nextTick() uint64 {
	m.tick++
	return m.tick
}
