//Package pebblefs keeps emulated block device artifacts as values in a PebbleDB
// key-value store, one key per artifact under a namespace prefix so that several
// devices can share one database.
package pebblefs

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/tarndt/emubd/pkg/filestore"

	"github.com/cockroachdb/pebble"
)

const nsSeparator = '/'

//Store is a PebbleDB backed filestore.Store
type Store struct {
	dbPath    string
	namespace string
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	closeOnce sync.Once

	cacheBytes int64
}

var _ filestore.Store = (*Store)(nil)

//New opens (creating if needed) the database at dbPath and returns a store
// whose artifacts are keyed under namespace
func New(dbPath, namespace string, options ...Option) (*Store, error) {
	switch {
	case namespace == "":
		return nil, fmt.Errorf("No namespace was provided: %w", fs.ErrInvalid)
	case strings.ContainsRune(namespace, nsSeparator):
		return nil, fmt.Errorf("Namespace %q may not contain %q: %w", namespace, nsSeparator, fs.ErrInvalid)
	}

	store := &Store{
		dbPath:    dbPath,
		namespace: namespace,
		writeOpts: pebble.NoSync,
	}
	for _, opt := range options {
		opt.apply(store)
	}

	opts := &pebble.Options{}
	if store.cacheBytes > 0 {
		cache := pebble.NewCache(store.cacheBytes)
		defer cache.Unref()
		opts.Cache = cache
	}

	var err error
	if store.db, err = pebble.Open(dbPath, opts); err != nil {
		return nil, fmt.Errorf("Could not open database %q: %w", dbPath, err)
	}
	return store, nil
}

func (store *Store) key(name string) ([]byte, error) {
	if err := filestore.ValidName(name); err != nil {
		return nil, err
	}

	key := make([]byte, 0, len(store.namespace)+1+len(name))
	key = append(key, store.namespace...)
	key = append(key, nsSeparator)
	return append(key, name...), nil
}

func (store *Store) get(name string) (key, val []byte, err error) {
	if key, err = store.key(name); err != nil {
		return nil, nil, err
	}

	rawVal, closeVal, err := store.db.Get(key)
	switch err {
	case nil:
		val = append([]byte(nil), rawVal...)
		closeVal.Close()
		return key, val, nil
	case pebble.ErrNotFound:
		return key, nil, filestore.NotExist("get", name)
	default:
		return key, nil, fmt.Errorf("Database get %q failed: %w", key, err)
	}
}

func (store *Store) committer(key []byte) func([]byte) error {
	return func(data []byte) error {
		if err := store.db.Set(key, data, store.writeOpts); err != nil {
			return fmt.Errorf("Database put %q failed: %w", key, err)
		}
		return nil
	}
}

//Describe fufills part of filestore.Store
func (store *Store) Describe() string {
	return fmt.Sprintf("namespace %q of database %q", store.namespace, store.dbPath)
}

//Open fufills part of filestore.Store
func (store *Store) Open(name string) (filestore.File, error) {
	_, val, err := store.get(name)
	if err != nil {
		return nil, err
	}
	return filestore.NewBlob(name, val, nil), nil
}

//OpenUpdate fufills part of filestore.Store
func (store *Store) OpenUpdate(name string) (filestore.File, error) {
	key, val, err := store.get(name)
	switch {
	case err == nil:
		return filestore.NewBlob(name, val, store.committer(key)), nil
	case filestore.IsNotExist(err):
		return filestore.NewEmptyBlob(name, store.committer(key)), nil
	}
	return nil, err
}

//Create fufills part of filestore.Store
func (store *Store) Create(name string) (filestore.File, error) {
	key, err := store.key(name)
	if err != nil {
		return nil, err
	}
	return filestore.NewEmptyBlob(name, store.committer(key)), nil
}

//Remove fufills part of filestore.Store
func (store *Store) Remove(name string) error {
	key, _, err := store.get(name)
	if err != nil {
		return err
	}
	if err = store.db.Delete(key, store.writeOpts); err != nil {
		return fmt.Errorf("Database delete %q failed: %w", key, err)
	}
	return nil
}

//Stat fufills part of filestore.Store
func (store *Store) Stat(name string) (fs.FileInfo, error) {
	_, val, err := store.get(name)
	if err != nil {
		return nil, err
	}
	return filestore.FileInfo{FileName: name, FileSize: int64(len(val)), FileMode: 0666}, nil
}

//List fufills part of filestore.Store
func (store *Store) List() ([]string, error) {
	lower := append([]byte(store.namespace), nsSeparator)
	upper := append([]byte(store.namespace), nsSeparator+1)
	iter := store.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})

	var names []string
	for valid := iter.First(); valid; valid = iter.Next() {
		names = append(names, string(iter.Key()[len(lower):]))
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("Could not iterate namespace %q of database %q: %w", store.namespace, store.dbPath, err)
	}
	return names, nil
}

//Flush forces memtable contents to disk
func (store *Store) Flush() error {
	return store.db.Flush()
}

//Close fufills io.Closer and in turn part of filestore.Store
func (store *Store) Close() (err error) {
	store.closeOnce.Do(func() {
		err = store.db.Close()
	})
	return err
}
