package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/stellarlinkco/agentcore/pkg/message"
)

// CacheManager decides where prompt-cache anchors go and tracks the static
// prefix hash so stale anchors are detected between calls.
//
// Up to three breakpoints are placed per request, ordered from longest to
// shortest TTL: the system prompt tail (1h), the tool descriptor block (1h),
// and the last user message (5m). Long-TTL anchors always precede short-TTL
// anchors in the request.
type CacheManager struct {
	mu         sync.Mutex
	prefixHash string
	hits       int
	misses     int
}

// Placement reports the anchor layout for one request.
type Placement struct {
	// SystemTTL and ToolsTTL are attached by the provider adapter to the
	// system prompt tail and the tool descriptor block respectively.
	SystemTTL message.CacheTTL
	ToolsTTL  message.CacheTTL
	// PrefixChanged is true when the static prefix hash differs from the
	// previous call, invalidating the old anchors.
	PrefixChanged bool
}

// NewCacheManager constructs an empty manager.
func NewCacheManager() *CacheManager { return &CacheManager{} }

// Plan computes the anchor placement for a request and marks the last user
// message in branch with a short-TTL anchor. branch is modified in place.
func (c *CacheManager) Plan(systemPrompt, toolsDigest string, branch []message.Message) Placement {
	sum := sha256.Sum256([]byte(systemPrompt + "\x00" + toolsDigest))
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	changed := c.prefixHash != "" && c.prefixHash != hash
	if c.prefixHash == hash {
		c.hits++
	} else {
		c.misses++
	}
	c.prefixHash = hash
	c.mu.Unlock()

	// Clear stale anchors, then mark the last block of the last user message.
	lastUser := -1
	for i := range branch {
		for j := range branch[i].Blocks {
			branch[i].Blocks[j].CacheAnchor = message.CacheNone
		}
		if branch[i].Role == message.RoleUser {
			lastUser = i
		}
	}
	if lastUser >= 0 && len(branch[lastUser].Blocks) > 0 {
		branch[lastUser].Blocks[len(branch[lastUser].Blocks)-1].CacheAnchor = message.CacheShort
	}

	return Placement{
		SystemTTL:     message.CacheLong,
		ToolsTTL:      message.CacheLong,
		PrefixChanged: changed,
	}
}

// Stats reports how often the static prefix was stable across calls.
func (c *CacheManager) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
