package markov

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Dictionary maps words to ids with an in-process cache in front of a
// WordStore. Concurrent lookups of the same uncached word share one store
// round trip.
type Dictionary struct {
	store WordStore
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]int32
}

func NewDictionary(store WordStore) *Dictionary {
	return &Dictionary{
		store: store,
		cache: make(map[string]int32),
	}
}

// IDFor returns the id of word, inserting it on first sight. The empty word
// is always SentinelID.
func (d *Dictionary) IDFor(ctx context.Context, word string) (int32, error) {
	if word == SentinelWord {
		return SentinelID, nil
	}
	if id, ok := d.cached(word); ok {
		return id, nil
	}

	v, err, _ := d.group.Do(word, func() (any, error) {
		if id, ok := d.cached(word); ok {
			return id, nil
		}
		id, found, err := d.store.LookupWord(ctx, word)
		if err != nil {
			return int32(0), fmt.Errorf("lookup word: %w", err)
		}
		if !found {
			id, err = d.store.InsertWord(ctx, word)
			if err != nil {
				return int32(0), fmt.Errorf("insert word: %w", err)
			}
		}
		d.mu.Lock()
		d.cache[word] = id
		d.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int32), nil
}

func (d *Dictionary) cached(word string) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.cache[word]
	return id, ok
}

// Len is the number of distinct non-sentinel words resolved so far.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}
