package http_handler

import (
	"fmt"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
)

// downloadCache keeps decoded payloads so repeated downloads skip base64
// decoding. Entries are keyed by id and content hash, so a record that
// changes under the same id never serves stale bytes.
type downloadCache struct {
	cache *expirable.LRU[string, []byte]
}

func newDownloadCache(size int, ttl time.Duration) *downloadCache {
	if size <= 0 {
		size = 64
	}
	return &downloadCache{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (d *downloadCache) get(key string) ([]byte, bool) {
	data, ok := d.cache.Get(key)
	if ok {
		downloadCacheHits.Inc()
		return data, true
	}
	downloadCacheMisses.Inc()
	return nil, false
}

func (d *downloadCache) add(key string, data []byte) {
	d.cache.Add(key, data)
}

// etagOf derives a strong validator from the stored payload.
func etagOf(record domain.FileRecord) string {
	return fmt.Sprintf("\"%016x\"", murmur3.Sum64([]byte(record.Payload)))
}

func cacheKey(record domain.FileRecord, etag string) string {
	return record.ID + ":" + etag
}
