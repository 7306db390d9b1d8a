package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	megabyte         = 1024 * 1024
	DefaultSizeBytes = 16 * megabyte
	DefaultTTL       = 10 * time.Minute
)

// JSONCache keeps JSON encoded values in an in-process freecache.
// Keys are namespaced by kind, so one cache can hold different types.
type JSONCache struct {
	cache     *freecache.Cache
	expireSec int
}

func NewJSONCache(sizeBytes int, ttl time.Duration) *JSONCache {
	if sizeBytes <= 0 {
		sizeBytes = DefaultSizeBytes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JSONCache{
		cache:     freecache.NewCache(sizeBytes),
		expireSec: int(ttl.Seconds()),
	}
}

func key(kind, id string) []byte {
	return []byte(kind + "::" + id)
}

// Get decodes the cached value into v, reporting whether it was found.
func (c *JSONCache) Get(kind, id string, v any) bool {
	valueBytes, err := c.cache.Get(key(kind, id))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			log.Warnf("cache get %s/%s: %s", kind, id, err)
		}
		return false
	}
	if err := json.Unmarshal(valueBytes, v); err != nil {
		log.Errorf("cache unmarshal %s/%s: %s", kind, id, err)
		c.Del(kind, id)
		return false
	}
	return true
}

func (c *JSONCache) Set(kind, id string, v any) {
	valueBytes, err := json.Marshal(v)
	if err != nil {
		log.Errorf("cache marshal %s/%s: %s", kind, id, err)
		return
	}
	if err := c.cache.Set(key(kind, id), valueBytes, c.expireSec); err != nil {
		log.Warnf("cache set %s/%s: %s", kind, id, err)
	}
}

func (c *JSONCache) Del(kind, id string) {
	c.cache.Del(key(kind, id))
}

func (c *JSONCache) Clear() {
	c.cache.Clear()
}

func (c *JSONCache) EntryCount() int64 {
	return c.cache.EntryCount()
}
