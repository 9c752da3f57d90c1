package osfs

import "io/fs"

//Option is a directory store option
type Option interface {
	apply(*Store)
}

//OptFsync instructs a directory store to fsync written files before closing them
type OptFsync bool

func (fsync OptFsync) apply(store *Store) {
	store.fsync = bool(fsync)
}

//OptPerm sets the permission bits new artifact files are created with
type OptPerm fs.FileMode

func (perm OptPerm) apply(store *Store) {
	store.perm = fs.FileMode(perm)
}
