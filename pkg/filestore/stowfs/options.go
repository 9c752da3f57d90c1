package stowfs

//Option is an object store option
type Option interface {
	apply(*Store)
}

//OptPrefix sets the prefix every object name starts with, this allows several
// emulated devices to share one container
type OptPrefix string

func (prefix OptPrefix) apply(store *Store) {
	store.prefix = string(prefix)
}

//OptCompress instructs the store to compress objects with the provided mode.
// Every store opened on the same prefix must use the same mode.
type OptCompress Mode

func (mode OptCompress) apply(store *Store) {
	store.mode = Mode(mode)
}
