package frame

import (
	"image"
	"log"
	"sync"
	"sync/atomic"
)

// Encoded is one published frame for a single tier. The Data slice is
// immutable once published; readers share it without copying.
type Encoded struct {
	Data       []byte
	Generation uint64
}

// Cache holds the most recent encoded frame per quality tier. A publish
// replaces each tier's slot wholesale, so a concurrent read observes either
// the previous complete buffer or the new one, never a mix.
type Cache struct {
	mu       sync.RWMutex
	slots    map[Tier]Encoded
	settings map[Tier]TierSettings
	encoder  *Encoder

	generation     atomic.Uint64
	framesCaptured atomic.Uint64
}

func NewCache(settings map[Tier]TierSettings) *Cache {
	return &Cache{
		slots:    make(map[Tier]Encoded),
		settings: settings,
		encoder:  &Encoder{},
	}
}

// Publish encodes img at every configured tier and stores the results. An
// encode failure on one tier is logged and skipped; the remaining tiers
// still publish.
func (c *Cache) Publish(img image.Image) {
	gen := c.generation.Add(1)

	encoded := make(map[Tier]Encoded, len(c.settings))
	for tier, settings := range c.settings {
		data, err := c.encoder.Encode(img, settings)
		if err != nil {
			log.Printf("frame: encode %s tier failed: %v", tier, err)
			continue
		}
		encoded[tier] = Encoded{Data: data, Generation: gen}
	}
	if len(encoded) == 0 {
		return
	}

	c.mu.Lock()
	for tier, enc := range encoded {
		c.slots[tier] = enc
	}
	c.mu.Unlock()

	c.framesCaptured.Add(1)
}

// Read returns the most recently published buffer for tier. ok is false
// before the first successful publish for that tier.
func (c *Cache) Read(tier Tier) (Encoded, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	enc, ok := c.slots[tier]
	return enc, ok
}

// FramesCaptured reports how many publishes have completed.
func (c *Cache) FramesCaptured() uint64 {
	return c.framesCaptured.Load()
}

// Settings returns the quality table the cache encodes with.
func (c *Cache) Settings() map[Tier]TierSettings {
	return c.settings
}
