//
// (C) Copyright 2023-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package cache provides a keyed cache of items that are expensive to create.
package cache

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/common"
	"github.com/daos-stack/gdr/logging"
)

// Item is a value that can be stored in an ItemCache.
type Item interface {
	Key() string
}

// ItemCreateFunc creates an item on a cache miss.
type ItemCreateFunc func() (Item, error)

// ItemReleaseFunc releases the resources held by an item when it leaves
// the cache.
type ItemReleaseFunc func(Item) error

// ItemCache maps keys to Items. Items are never evicted; they remain until
// the cache is cleared.
type ItemCache struct {
	log   logging.Logger
	mutex sync.RWMutex
	items map[string]Item
}

// NewItemCache creates a new ItemCache.
func NewItemCache(log logging.Logger) *ItemCache {
	return &ItemCache{
		log:   log,
		items: make(map[string]Item),
	}
}

func (ic *ItemCache) keys() []string {
	keys := make([]string, 0, len(ic.items))
	for k := range ic.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached items.
func (ic *ItemCache) Len() int {
	if ic == nil {
		return 0
	}

	ic.mutex.RLock()
	defer ic.mutex.RUnlock()

	return len(ic.items)
}

// GetOrCreate returns the item cached under key if it exists, otherwise it
// creates the item with missFn and caches it. The returned bool is true if
// the item was created by this call. If missFn fails nothing is cached.
func (ic *ItemCache) GetOrCreate(key string, missFn ItemCreateFunc) (Item, bool, error) {
	if ic == nil {
		return nil, false, errors.New("nil ItemCache")
	}

	if key == "" {
		return nil, false, errors.New("empty string is an invalid key")
	}

	if missFn == nil {
		return nil, false, errors.New("item create function is required")
	}

	// Creation happens under the write lock so that concurrent misses
	// for one key create it only once.
	ic.mutex.Lock()
	defer ic.mutex.Unlock()

	if item, found := ic.items[key]; found {
		return item, false, nil
	}

	item, err := missFn()
	if err != nil {
		return nil, false, errors.Wrapf(err, "create item for %q", key)
	}
	if common.InterfaceIsNil(item) || item.Key() != key {
		return nil, false, errors.Errorf("create function returned invalid item for %q", key)
	}
	ic.items[key] = item
	ic.log.Tracef("created item for key %q", key)

	return item, true, nil
}

// Clear removes every item from the cache, calling releaseFn on each in
// key order. All items are removed even if some fail to release; the
// first failure is returned.
func (ic *ItemCache) Clear(releaseFn ItemReleaseFunc) error {
	if ic == nil {
		return errors.New("nil ItemCache")
	}

	ic.mutex.Lock()
	defer ic.mutex.Unlock()

	var firstErr error
	for _, key := range ic.keys() {
		item := ic.items[key]
		delete(ic.items, key)

		if releaseFn == nil {
			continue
		}
		if err := releaseFn(item); err != nil {
			ic.log.Errorf("failed to release cached item %q: %s", key, err)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "release %q", key)
			}
		}
	}

	return firstErr
}
