package conf

import (
	"strings"
)

//These are enums that map to each of the available file store implementations
const (
	StoreUnknown BackingStore = iota
	StoreOS
	StorePebble
	StoreStowLocal
)

//BackingStore type represents the available file store implementations
type BackingStore uint8

//NewBackingStore constructs a BackingStore from a human textual short name (from config)
func NewBackingStore(storeDesc string) BackingStore {
	switch strings.ToLower(storeDesc) {
	case "os", "dir", "file":
		return StoreOS
	case "pebble", "pebbledb":
		return StorePebble
	case "stow-local", "objstore-local":
		return StoreStowLocal
	default:
		return StoreUnknown
	}
}

//String is a human readable description of the store for display
func (bs BackingStore) String() string {
	switch bs {
	case StoreOS:
		return "directory"
	case StorePebble:
		return "pebbleDB"
	case StoreStowLocal:
		return "local objectstore"
	default:
		return "unknown"
	}
}
