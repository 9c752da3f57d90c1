//Package osfs keeps emulated block device artifacts as plain files in a single
// directory of the host filesystem.
package osfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tarndt/emubd/pkg/filestore"
	"github.com/tarndt/emubd/pkg/util/consterr"

	"golang.org/x/sys/unix"
)

//ErrPathBuffer is returned when a path buffer large enough for the base directory
// plus the longest child name would exceed the platform path limit
const ErrPathBuffer = consterr.ConstErr("Path buffer would exceed the platform path limit")

//MaxChildName is the longest child name this store will construct a path for
const MaxChildName = 255

const defaultPerm fs.FileMode = 0666

//Store is a directory of artifact files. It has a single path scratch buffer
// that is overwritten by every call, so a Store is not safe for concurrent use.
type Store struct {
	dir    string
	path   []byte
	prefix int

	fsync bool
	perm  fs.FileMode
}

var _ filestore.Store = (*Store)(nil)

//New is the constructor for directory backed stores, dir is created if it does
// not already exist
func New(dir string, options ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("No directory was provided: %w", fs.ErrInvalid)
	}

	pathCap := len(dir) + 1 + MaxChildName
	if pathCap > unix.PathMax {
		return nil, fmt.Errorf("Could not reserve a %d byte path buffer for directory %q (limit %d): %w", pathCap, dir, unix.PathMax, ErrPathBuffer)
	}

	store := &Store{
		dir:  dir,
		path: make([]byte, 0, pathCap),
		perm: defaultPerm,
	}
	store.path = append(append(store.path, dir...), os.PathSeparator)
	store.prefix = len(store.path)

	for _, opt := range options {
		opt.apply(store)
	}

	if err := os.Mkdir(dir, 0777); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("Could not create directory %q: %w", dir, err)
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("Could not stat directory %q: %w", dir, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("Path %q is not a directory: %w", dir, unix.ENOTDIR)
	}

	return store, nil
}

//Dir is the directory this store keeps its artifacts in
func (store *Store) Dir() string {
	return store.dir
}

//Describe fufills part of filestore.Store
func (store *Store) Describe() string {
	return fmt.Sprintf("directory %q", store.dir)
}

//child overwrites the scratch buffer suffix with name and returns the full path
func (store *Store) child(name string) (string, error) {
	if err := filestore.ValidName(name); err != nil {
		return "", err
	}
	if len(name) > MaxChildName {
		return "", fmt.Errorf("Child name %q is longer than %d bytes: %w", name, MaxChildName, unix.ENAMETOOLONG)
	}

	store.path = append(store.path[:store.prefix], name...)
	return string(store.path), nil
}

//Open fufills part of filestore.Store
func (store *Store) Open(name string) (filestore.File, error) {
	fpath, err := store.child(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	return &file{File: f}, nil
}

//OpenUpdate fufills part of filestore.Store
func (store *Store) OpenUpdate(name string) (filestore.File, error) {
	fpath, err := store.child(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fpath, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = os.OpenFile(fpath, os.O_RDWR|os.O_CREATE, store.perm)
	}
	if err != nil {
		return nil, err
	}
	return &file{File: f, fsync: store.fsync}, nil
}

//Create fufills part of filestore.Store
func (store *Store) Create(name string) (filestore.File, error) {
	fpath, err := store.child(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, store.perm)
	if err != nil {
		return nil, err
	}
	return &file{File: f, fsync: store.fsync}, nil
}

//Remove fufills part of filestore.Store
func (store *Store) Remove(name string) error {
	fpath, err := store.child(name)
	if err != nil {
		return err
	}
	return os.Remove(fpath)
}

//Stat fufills part of filestore.Store
func (store *Store) Stat(name string) (fs.FileInfo, error) {
	fpath, err := store.child(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(fpath)
}

//List fufills part of filestore.Store
func (store *Store) List() ([]string, error) {
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		return nil, fmt.Errorf("Could not list directory %q: %w", store.dir, err)
	}

	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

//Close fufills io.Closer and in turn part of filestore.Store
func (*Store) Close() error {
	return nil
}

//file is an *os.File that optionally fsyncs before closing
type file struct {
	*os.File
	fsync bool
}

func (f *file) Close() error {
	if f.fsync {
		if err := unix.Fsync(int(f.Fd())); err != nil {
			f.File.Close()
			return &fs.PathError{Op: "fsync", Path: f.Name(), Err: err}
		}
	}
	return f.File.Close()
}
