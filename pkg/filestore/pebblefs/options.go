package pebblefs

import "github.com/cockroachdb/pebble"

//Option is a PebbleDB store option
type Option interface {
	apply(*Store)
}

//OptSyncWrites instructs the store to sync the WAL on every artifact write
type OptSyncWrites bool

func (sync OptSyncWrites) apply(store *Store) {
	if sync {
		store.writeOpts = pebble.Sync
	} else {
		store.writeOpts = pebble.NoSync
	}
}

//OptCacheBytes sets the size of the block cache
type OptCacheBytes int64

func (cacheBytes OptCacheBytes) apply(store *Store) {
	store.cacheBytes = int64(cacheBytes)
}
