// Package codecache keeps compiled and audited skill artifacts keyed by skill
// name and content hash.
package codecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
)

const (
	DefaultMaxSize = 100
	DefaultTTL     = time.Hour
)

// EntryMetrics records what producing an entry cost
type EntryMetrics struct {
	CompileTime time.Duration `json:"compileTime"`
	AuditTime   time.Duration `json:"auditTime"`
}

// Entry is one cached artifact with its static security report
type Entry struct {
	SkillName string                  `json:"skillName"`
	Hash      string                  `json:"hash"`
	Artifact  *skill.CompiledArtifact `json:"artifact"`
	Report    *skill.SecurityReport   `json:"report"`
	Metrics   EntryMetrics            `json:"metrics"`
	CreatedAt time.Time               `json:"createdAt"`
	LastUsed  time.Time               `json:"lastUsed"`
	ExpiresAt time.Time               `json:"expiresAt"`
	HitCount  int64                   `json:"hitCount"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Artifact = e.Artifact.Clone()
	c.Report = e.Report.Clone()
	return &c
}

// EntryInfo describes an entry without its payload
type EntryInfo struct {
	SkillName string    `json:"skillName"`
	Hash      string    `json:"hash"`
	HitCount  int64     `json:"hitCount"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Stats provides cache statistics
type Stats struct {
	Size      int         `json:"size"`
	MaxSize   int         `json:"maxSize"`
	Hits      int64       `json:"hits"`
	Misses    int64       `json:"misses"`
	Evictions int64       `json:"evictions"`
	Entries   []EntryInfo `json:"entries"`
}

// Cache is a fixed-capacity LRU of skill artifacts with a per-entry TTL.
// There is at most one entry per skill name.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache; non-positive arguments select the defaults
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a deep copy of the entry for name when its hash matches and it
// has not expired. A miss drops any stale entry stored under name.
func (c *Cache) Get(name, hash string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[name]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*Entry)
	now := c.now()
	if entry.Hash != hash || !now.Before(entry.ExpiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	entry.HitCount++
	entry.LastUsed = now
	entry.ExpiresAt = now.Add(c.ttl)
	c.lru.MoveToFront(el)
	c.hits++

	return entry.clone(), true
}

// peek looks an entry up without touching statistics or recency
func (c *Cache) peek(name, hash string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry)
	if entry.Hash != hash || !c.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	return entry.clone(), true
}

// Set stores a copy of artifact and report under name, replacing any
// previous entry for that name
func (c *Cache) Set(name, hash string, artifact *skill.CompiledArtifact, report *skill.SecurityReport, metrics EntryMetrics) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &Entry{
		SkillName: name,
		Hash:      hash,
		Artifact:  artifact.Clone(),
		Report:    report.Clone(),
		Metrics:   metrics,
		CreatedAt: now,
		LastUsed:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	if el, ok := c.entries[name]; ok {
		el.Value = entry
		c.lru.MoveToFront(el)
		return entry.clone()
	}

	for c.lru.Len() >= c.maxSize {
		c.removeElement(c.lru.Back())
		c.evictions++
	}
	c.entries[name] = c.lru.PushFront(entry)
	return entry.clone()
}

// Invalidate drops the entry for name and reports whether one existed
func (c *Cache) Invalidate(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[name]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns counters and a description of every entry, most recently
// used first
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]EntryInfo, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		infos = append(infos, EntryInfo{
			SkillName: e.SkillName,
			Hash:      e.Hash,
			HitCount:  e.HitCount,
			CreatedAt: e.CreatedAt,
			LastUsed:  e.LastUsed,
			ExpiresAt: e.ExpiresAt,
		})
	}

	return Stats{
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   infos,
	}
}

func (c *Cache) removeElement(el *list.Element) {
	entry := c.lru.Remove(el).(*Entry)
	delete(c.entries, entry.SkillName)
}
