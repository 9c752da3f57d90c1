//Package memfs is a heap backed filestore.Store for tests. It can be told to
// fail specific operations to exercise error paths that are hard to provoke on a
// real filesystem.
package memfs

import (
	"fmt"
	"io/fs"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tarndt/emubd/pkg/filestore"
	"github.com/tarndt/emubd/pkg/util/consterr"
)

const errClosed = consterr.ConstErr("Store is shutdown")

//Op names an operation that can be made to fail with FailOn
type Op string

//Operations that can fail
const (
	OpOpen       Op = "open"
	OpOpenUpdate Op = "open-update"
	OpCreate     Op = "create"
	OpRemove     Op = "remove"
	OpStat       Op = "stat"
	OpList       Op = "list"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpClose      Op = "close"
)

type entry struct {
	data    []byte
	dir     bool
	modTime time.Time
}

//Store is a simple memory (heap) backed file store
type Store struct {
	entries map[string]*entry
	faults  map[Op]map[string]error
	calls   map[Op]int

	atomicOnline uint64
}

var _ filestore.Store = (*Store)(nil)

//New constructs an empty memory backed store
func New() *Store {
	return &Store{
		entries:      make(map[string]*entry),
		faults:       make(map[Op]map[string]error),
		calls:        make(map[Op]int),
		atomicOnline: 1,
	}
}

//Reopen returns a new online store sharing this store's artifacts and faults,
// like reopening a directory after closing it
func (store *Store) Reopen() *Store {
	return &Store{
		entries:      store.entries,
		faults:       store.faults,
		calls:        store.calls,
		atomicOnline: 1,
	}
}

//FailOn makes every future op on the named child fail with err, an empty name
// matches every child. A nil err clears the fault.
func (store *Store) FailOn(op Op, name string, err error) {
	byName := store.faults[op]
	if byName == nil {
		byName = make(map[string]error)
		store.faults[op] = byName
	}
	if err == nil {
		delete(byName, name)
		return
	}
	byName[name] = err
}

//Calls reports how many times op was attempted
func (store *Store) Calls(op Op) int {
	return store.calls[op]
}

//Mkdir creates a child that is a directory rather than a regular artifact
func (store *Store) Mkdir(name string) {
	store.entries[name] = &entry{dir: true, modTime: time.Now()}
}

//Contents returns a copy of a child's bytes and whether it exists
func (store *Store) Contents(name string) ([]byte, bool) {
	ent, exists := store.entries[name]
	if !exists || ent.dir {
		return nil, false
	}
	return append([]byte(nil), ent.data...), true
}

//Put replaces a child's bytes directly, bypassing faults
func (store *Store) Put(name string, data []byte) {
	store.entries[name] = &entry{data: append([]byte(nil), data...), modTime: time.Now()}
}

func (store *Store) check(op Op, name string) error {
	store.calls[op]++
	if atomic.LoadUint64(&store.atomicOnline) != 1 {
		return errClosed
	}
	if err := store.faults[op][name]; err != nil {
		return &fs.PathError{Op: string(op), Path: name, Err: err}
	}
	if err := store.faults[op][""]; err != nil {
		return &fs.PathError{Op: string(op), Path: name, Err: err}
	}
	return nil
}

func (store *Store) lookup(op Op, name string) (*entry, error) {
	if err := store.check(op, name); err != nil {
		return nil, err
	}
	if err := filestore.ValidName(name); err != nil {
		return nil, err
	}

	ent, exists := store.entries[name]
	switch {
	case !exists:
		return nil, filestore.NotExist(string(op), name)
	case ent.dir && op != OpStat && op != OpRemove:
		return nil, &fs.PathError{Op: string(op), Path: name, Err: fs.ErrInvalid}
	}
	return ent, nil
}

//Describe fufills part of filestore.Store
func (store *Store) Describe() string {
	return fmt.Sprintf("memory store of %d artifacts", len(store.entries))
}

//Open fufills part of filestore.Store
func (store *Store) Open(name string) (filestore.File, error) {
	ent, err := store.lookup(OpOpen, name)
	if err != nil {
		return nil, err
	}
	return &file{Blob: filestore.NewBlob(name, ent.data, nil), store: store, name: name}, nil
}

//OpenUpdate fufills part of filestore.Store
func (store *Store) OpenUpdate(name string) (filestore.File, error) {
	ent, err := store.lookup(OpOpenUpdate, name)
	if err != nil {
		if !filestore.IsNotExist(err) {
			return nil, err
		}
		ent = &entry{modTime: time.Now()}
		store.entries[name] = ent
	}

	data := append([]byte(nil), ent.data...)
	return &file{Blob: filestore.NewBlob(name, data, store.committer(name)), store: store, name: name}, nil
}

//Create fufills part of filestore.Store
func (store *Store) Create(name string) (filestore.File, error) {
	if err := store.check(OpCreate, name); err != nil {
		return nil, err
	}
	if err := filestore.ValidName(name); err != nil {
		return nil, err
	}

	store.entries[name] = &entry{modTime: time.Now()}
	return &file{Blob: filestore.NewEmptyBlob(name, store.committer(name)), store: store, name: name}, nil
}

func (store *Store) committer(name string) func([]byte) error {
	return func(data []byte) error {
		store.entries[name] = &entry{data: data, modTime: time.Now()}
		return nil
	}
}

//Remove fufills part of filestore.Store
func (store *Store) Remove(name string) error {
	if _, err := store.lookup(OpRemove, name); err != nil {
		return err
	}
	delete(store.entries, name)
	return nil
}

//Stat fufills part of filestore.Store
func (store *Store) Stat(name string) (fs.FileInfo, error) {
	ent, err := store.lookup(OpStat, name)
	if err != nil {
		return nil, err
	}

	info := filestore.FileInfo{FileName: name, FileSize: int64(len(ent.data)), FileMode: 0666, Modified: ent.modTime}
	if ent.dir {
		info.FileMode = fs.ModeDir | 0777
	}
	return info, nil
}

//List fufills part of filestore.Store
func (store *Store) List() ([]string, error) {
	if err := store.check(OpList, ""); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(store.entries))
	for name := range store.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

//Close fufills io.Closer and in turn part of filestore.Store
func (store *Store) Close() error {
	atomic.StoreUint64(&store.atomicOnline, 0)
	return nil
}

type file struct {
	*filestore.Blob
	store *Store
	name  string
}

func (f *file) ReadAt(buf []byte, pos int64) (int, error) {
	if err := f.store.check(OpRead, f.name); err != nil {
		return 0, err
	}
	return f.Blob.ReadAt(buf, pos)
}

func (f *file) WriteAt(buf []byte, pos int64) (int, error) {
	if err := f.store.check(OpWrite, f.name); err != nil {
		return 0, err
	}
	return f.Blob.WriteAt(buf, pos)
}

func (f *file) Close() error {
	if err := f.store.check(OpClose, f.name); err != nil {
		return err //contents are dropped like an unflushed write
	}
	return f.Blob.Close()
}
