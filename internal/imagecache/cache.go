package imagecache

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

var ErrCacheFull = errors.New("image cache cannot free enough space")

// DefaultMaxSize is the default cache ceiling (10 GiB).
const DefaultMaxSize = 10 * 1024 * 1024 * 1024

// DefaultEvictionThreshold triggers eviction when the projected size
// exceeds this fraction of the ceiling.
const DefaultEvictionThreshold = 0.9

// LayerEntry is a content-addressed container filesystem layer tracked by
// the cache.
type LayerEntry struct {
	Digest         string    `json:"digest"`
	CID            string    `json:"cid"`
	Size           int64     `json:"size"`
	LocalPath      string    `json:"localPath"`
	CachedAt       time.Time `json:"cachedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	HitCount       int64     `json:"hitCount"`
}

// ImageEntry is a cached image: an ordered list of layer digests, each of
// which must independently exist as a LayerEntry. An image with a missing
// layer is not a valid cached image.
type ImageEntry struct {
	Digest         string    `json:"digest"`
	RepoID         string    `json:"repoId"`
	Layers         []string  `json:"layers"`
	TotalSize      int64     `json:"totalSize"`
	CachedAt       time.Time `json:"cachedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	HitCount       int64     `json:"hitCount"`
}

// Stats is a read-only snapshot of the cache state.
type Stats struct {
	Layers    int     `json:"layers"`
	Images    int     `json:"images"`
	TotalSize int64   `json:"totalSize"`
	MaxSize   int64   `json:"maxSize"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hitRate"`
	Evictions int64   `json:"evictions"`
}

// Cache is the content-addressed layer/image index. A single mutex guards
// the whole index: the LRU order, the cascade invariant (no image may
// reference an evicted layer) and the global size counter are properties
// of the index as a whole, not of individual entries.
type Cache struct {
	mu        sync.Mutex
	layers    map[string]*LayerEntry
	images    map[string]*ImageEntry
	layerRefs map[string]map[string]bool // layer digest -> referencing image digests

	totalSize         int64
	maxSize           int64
	evictionThreshold float64

	hits      int64
	misses    int64
	evictions int64

	prewarm *prewarmQueue
}

func NewCache(maxSize int64, evictionThreshold float64) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if evictionThreshold <= 0 || evictionThreshold > 1 {
		evictionThreshold = DefaultEvictionThreshold
	}
	return &Cache{
		layers:            make(map[string]*LayerEntry),
		images:            make(map[string]*ImageEntry),
		layerRefs:         make(map[string]map[string]bool),
		maxSize:           maxSize,
		evictionThreshold: evictionThreshold,
		prewarm:           newPrewarmQueue(),
	}
}

// GetCachedLayer looks up a layer and bumps its recency and hit count.
// Every read is simultaneously an LRU recency update.
func (c *Cache) GetCachedLayer(digest string) (LayerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.layers[digest]
	if !ok {
		c.misses++
		return LayerEntry{}, false
	}
	l.LastAccessedAt = time.Now()
	l.HitCount++
	c.hits++
	return *l, true
}

// GetCachedImage looks up an image, bumps its recency and the recency of
// every constituent layer.
func (c *Cache) GetCachedImage(digest string) (ImageEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, ok := c.images[digest]
	if !ok {
		c.misses++
		return ImageEntry{}, false
	}
	now := time.Now()
	img.LastAccessedAt = now
	img.HitCount++
	for _, ld := range img.Layers {
		if l, ok := c.layers[ld]; ok {
			l.LastAccessedAt = now
		}
	}
	c.hits++
	cp := *img
	cp.Layers = append([]string(nil), img.Layers...)
	return cp, true
}

// HasImage reports residency without touching recency or hit counters.
// Used by placement scoring, which must not skew the LRU order.
func (c *Cache) HasImage(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.images[digest]
	return ok
}

// CacheLayer inserts or refreshes a layer. Idempotent on digest. If the
// projected total size crosses the eviction threshold, eviction runs
// synchronously first.
func (c *Cache) CacheLayer(digest, cid string, size int64, localPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheLayerLocked(digest, cid, size, localPath)
}

func (c *Cache) cacheLayerLocked(digest, cid string, size int64, localPath string) error {
	if c.refreshLayerLocked(digest, cid, localPath) {
		return nil
	}
	if err := c.ensureCapacityLocked(size, nil); err != nil {
		return err
	}
	c.insertLayerLocked(digest, cid, size, localPath)
	return nil
}

// refreshLayerLocked bumps an already resident layer and reports whether
// it was found.
func (c *Cache) refreshLayerLocked(digest, cid, localPath string) bool {
	l, ok := c.layers[digest]
	if !ok {
		return false
	}
	l.CID = cid
	l.LocalPath = localPath
	l.LastAccessedAt = time.Now()
	return true
}

func (c *Cache) insertLayerLocked(digest, cid string, size int64, localPath string) {
	now := time.Now()
	c.layers[digest] = &LayerEntry{
		Digest:         digest,
		CID:            cid,
		Size:           size,
		LocalPath:      localPath,
		CachedAt:       now,
		LastAccessedAt: now,
	}
	c.totalSize += size
}

// LayerSpec describes a layer to be cached together with an image.
type LayerSpec struct {
	Digest    string `json:"digest"`
	CID       string `json:"cid"`
	Size      int64  `json:"size"`
	LocalPath string `json:"localPath"`
}

// CacheImage inserts or refreshes an image together with its layers, in
// order. Layers already resident are deduplicated: only missing layers
// consume space.
func (c *Cache) CacheImage(digest, repoID string, layers []LayerSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// capacity for the whole image is ensured up front, with its digests
	// shielded from eviction: evicting per layer could reclaim a layer of
	// this very image inserted a moment earlier and build an entry
	// pointing at gone bytes
	protected := make(map[string]bool, len(layers))
	var missing int64
	for _, l := range layers {
		if protected[l.Digest] {
			continue
		}
		protected[l.Digest] = true
		if _, ok := c.layers[l.Digest]; !ok {
			missing += l.Size
		}
	}
	if err := c.ensureCapacityLocked(missing, protected); err != nil {
		return err
	}

	for _, l := range layers {
		if !c.refreshLayerLocked(l.Digest, l.CID, l.LocalPath) {
			c.insertLayerLocked(l.Digest, l.CID, l.Size, l.LocalPath)
		}
	}

	now := time.Now()
	digests := make([]string, len(layers))
	var total int64
	for i, l := range layers {
		digests[i] = l.Digest
		total += c.layers[l.Digest].Size
	}

	if old, ok := c.images[digest]; ok {
		c.dropImageRefsLocked(old)
	}
	c.images[digest] = &ImageEntry{
		Digest:         digest,
		RepoID:         repoID,
		Layers:         digests,
		TotalSize:      total,
		CachedAt:       now,
		LastAccessedAt: now,
	}
	for _, ld := range digests {
		refs, ok := c.layerRefs[ld]
		if !ok {
			refs = make(map[string]bool)
			c.layerRefs[ld] = refs
		}
		refs[digest] = true
	}
	return nil
}

// ensureCapacityLocked evicts least recently used layers until the
// incoming size fits below the eviction threshold. Digests in protected
// are never chosen as victims.
func (c *Cache) ensureCapacityLocked(incoming int64, protected map[string]bool) error {
	limit := int64(float64(c.maxSize) * c.evictionThreshold)
	if c.totalSize+incoming <= limit {
		return nil
	}
	need := c.totalSize + incoming - limit
	freed := c.evictLocked(need, protected)
	if freed < need {
		return ErrCacheFull
	}
	return nil
}

// evictLocked deletes layers in strict LRU order, cascading to every
// image referencing a deleted layer, until at least `need` bytes are
// reclaimed. The cascade is the correctness invariant: a cache hit must
// never resolve to a digest whose bytes are gone.
func (c *Cache) evictLocked(need int64, protected map[string]bool) int64 {
	victims := make([]*LayerEntry, 0, len(c.layers))
	for _, l := range c.layers {
		if protected[l.Digest] {
			continue
		}
		victims = append(victims, l)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
	})

	var freed int64
	for _, l := range victims {
		if freed >= need {
			break
		}
		freed += c.removeLayerLocked(l.Digest)
		c.evictions++
		log.Printf("cache: evicted layer %s (%d bytes freed)", l.Digest, freed)
	}
	return freed
}

// removeLayerLocked deletes a layer and every image referencing it, in
// the same critical section. Returns the layer size reclaimed.
func (c *Cache) removeLayerLocked(digest string) int64 {
	l, ok := c.layers[digest]
	if !ok {
		return 0
	}
	delete(c.layers, digest)
	c.totalSize -= l.Size

	for imgDigest := range c.layerRefs[digest] {
		if img, ok := c.images[imgDigest]; ok {
			delete(c.images, imgDigest)
			c.dropImageRefsLocked(img)
			log.Printf("cache: invalidated image %s (missing layer %s)", imgDigest, digest)
		}
	}
	delete(c.layerRefs, digest)
	return l.Size
}

func (c *Cache) dropImageRefsLocked(img *ImageEntry) {
	for _, ld := range img.Layers {
		if refs, ok := c.layerRefs[ld]; ok {
			delete(refs, img.Digest)
			if len(refs) == 0 {
				delete(c.layerRefs, ld)
			}
		}
	}
}

// InvalidateLayer removes a layer explicitly (e.g. on corruption),
// cascading to referencing images with the same accounting discipline as
// eviction.
func (c *Cache) InvalidateLayer(digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLayerLocked(digest)
}

// InvalidateImage removes an image entry. Its layers stay resident; they
// may be shared with other images.
func (c *Cache) InvalidateImage(digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.images[digest]
	if !ok {
		return
	}
	delete(c.images, digest)
	c.dropImageRefsLocked(img)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Layers:    len(c.layers),
		Images:    len(c.images),
		TotalSize: c.totalSize,
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if c.hits+c.misses > 0 {
		st.HitRate = float64(c.hits) / float64(c.hits+c.misses)
	}
	return st
}
