//Package stowfs keeps emulated block device artifacts as objects in a stow
// container (S3, B2, Azure, Google, Swift, Oracle, SFTP or a local directory).
// Objects are immutable, so an opened artifact is downloaded in full and
// re-uploaded in full when closed after being written.
package stowfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/tarndt/emubd/pkg/filestore"

	"github.com/dustin/go-humanize"
	"github.com/graymeta/stow"
)

const (
	defaultPrefix = "emubd-"
	listPageSize  = 256
	maxObjectSize = 1 << 30 //1 GiB, far beyond any sane erase block
)

//Store is a stow container backed filestore.Store
type Store struct {
	container stow.Container
	prefix    string
	mode      Mode
}

var _ filestore.Store = (*Store)(nil)

//New constructs a store keeping artifacts in container, each object is named
// with the store's prefix followed by the artifact name
func New(container stow.Container, options ...Option) (*Store, error) {
	if container == nil {
		return nil, fmt.Errorf("Provided container was nil: %w", fs.ErrInvalid)
	}

	store := &Store{container: container, prefix: defaultPrefix}
	for _, opt := range options {
		opt.apply(store)
	}

	switch {
	case store.mode == ModeUnknown:
		return nil, fmt.Errorf("Unknown compression mode: %w", fs.ErrInvalid)
	case strings.ContainsAny(store.prefix, `/\`):
		return nil, fmt.Errorf("Object prefix %q contains a path separator: %w", store.prefix, fs.ErrInvalid)
	}
	return store, nil
}

//Describe fufills part of filestore.Store
func (store *Store) Describe() string {
	return fmt.Sprintf("%q objects in %s (%s compression)", store.prefix+"*", describeContainer(store.container), store.mode)
}

func (store *Store) objectName(name string) (string, error) {
	if err := filestore.ValidName(name); err != nil {
		return "", err
	}
	return store.prefix + name, nil
}

//artifactName strips any directory (local kind) and the store prefix from an
// item name, reporting false if the item does not belong to this store
func (store *Store) artifactName(item stow.Item) (string, bool) {
	name := path.Base(filepath.ToSlash(item.Name()))
	if !strings.HasPrefix(name, store.prefix) || len(name) == len(store.prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, store.prefix), true
}

//walk calls fn on each item belonging to this store whose object name begins
// with objPrefix, stopping early if fn returns false
func (store *Store) walk(objPrefix string, fn func(name string, item stow.Item) bool) error {
	cursor := stow.CursorStart
	for {
		items, next, err := store.container.Items(objPrefix, cursor, listPageSize)
		if err != nil {
			return fmt.Errorf("Could not enumerate items in %s: %w", describeContainer(store.container), err)
		}
		for _, item := range items {
			if name, ok := store.artifactName(item); ok && !fn(name, item) {
				return nil
			}
		}
		if stow.IsCursorEnd(next) {
			return nil
		}
		cursor = next
	}
}

func (store *Store) find(op, name string) (stow.Item, error) {
	objName, err := store.objectName(name)
	if err != nil {
		return nil, err
	}

	var found stow.Item
	err = store.walk(objName, func(itemName string, item stow.Item) bool {
		if itemName == name {
			found = item
			return false
		}
		return true
	})
	switch {
	case err != nil:
		return nil, err
	case found == nil:
		return nil, filestore.NotExist(op, name)
	}
	return found, nil
}

func (store *Store) download(item stow.Item) ([]byte, error) {
	size, err := item.Size()
	if err != nil {
		return nil, fmt.Errorf("Could not obtain %s size: %w", describeItem(item), err)
	} else if size > maxObjectSize {
		return nil, fmt.Errorf("Store reported %s is %s, larger than the %s limit", describeItem(item), humanize.IBytes(uint64(size)), humanize.IBytes(maxObjectSize))
	}

	data, err := item.Open()
	if err != nil {
		return nil, fmt.Errorf("Could not open %s for downloading: %w", describeItem(item), err)
	}
	defer data.Close()

	var raw bytes.Buffer
	raw.Grow(int(size))
	n, err := io.Copy(&raw, &io.LimitedReader{R: data, N: size + 1})
	switch {
	case err != nil:
		return nil, fmt.Errorf("Could not download %s: %w", describeItem(item), err)
	case n != size:
		return nil, fmt.Errorf("Store download of %s was wrong size: Expected %d bytes and found %d bytes", describeItem(item), size, n)
	}

	decoded, err := store.mode.Decode(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("Could not decode %s: %w", describeItem(item), err)
	}
	return decoded, nil
}

func (store *Store) committer(name string) func([]byte) error {
	return func(data []byte) error {
		objName, err := store.objectName(name)
		if err != nil {
			return err
		}
		encoded, err := store.mode.Encode(data)
		if err != nil {
			return fmt.Errorf("Could not encode %q: %w", objName, err)
		}
		if _, err = store.container.Put(objName, bytes.NewReader(encoded), int64(len(encoded)), nil); err != nil {
			return fmt.Errorf("Could not upload %q to %s: %w", objName, describeContainer(store.container), err)
		}
		return nil
	}
}

//Open fufills part of filestore.Store
func (store *Store) Open(name string) (filestore.File, error) {
	item, err := store.find("open", name)
	if err != nil {
		return nil, err
	}
	data, err := store.download(item)
	if err != nil {
		return nil, err
	}
	return filestore.NewBlob(name, data, nil), nil
}

//OpenUpdate fufills part of filestore.Store
func (store *Store) OpenUpdate(name string) (filestore.File, error) {
	item, err := store.find("open", name)
	if err != nil {
		if filestore.IsNotExist(err) {
			return filestore.NewEmptyBlob(name, store.committer(name)), nil
		}
		return nil, err
	}
	data, err := store.download(item)
	if err != nil {
		return nil, err
	}
	return filestore.NewBlob(name, data, store.committer(name)), nil
}

//Create fufills part of filestore.Store
func (store *Store) Create(name string) (filestore.File, error) {
	if _, err := store.objectName(name); err != nil {
		return nil, err
	}
	return filestore.NewEmptyBlob(name, store.committer(name)), nil
}

//Remove fufills part of filestore.Store
func (store *Store) Remove(name string) error {
	item, err := store.find("remove", name)
	if err != nil {
		return err
	}
	if err = store.container.RemoveItem(item.ID()); err != nil {
		return fmt.Errorf("Could not remove %s: %w", describeItem(item), err)
	}
	return nil
}

//Stat fufills part of filestore.Store, the reported size is that of the stored
// (possibly compressed) object
func (store *Store) Stat(name string) (fs.FileInfo, error) {
	item, err := store.find("stat", name)
	if err != nil {
		return nil, err
	}

	info := filestore.FileInfo{FileName: name, FileMode: 0666}
	if info.FileSize, err = item.Size(); err != nil {
		return nil, fmt.Errorf("Could not obtain %s size: %w", describeItem(item), err)
	}
	if info.Modified, err = item.LastMod(); err != nil {
		return nil, fmt.Errorf("Could not obtain %s modification time: %w", describeItem(item), err)
	}
	return info, nil
}

//List fufills part of filestore.Store
func (store *Store) List() ([]string, error) {
	var names []string
	err := store.walk(store.prefix, func(name string, _ stow.Item) bool {
		names = append(names, name)
		return true
	})
	return names, err
}

//Close fufills io.Closer and in turn part of filestore.Store, the container
// belongs to the caller and is left open
func (*Store) Close() error {
	return nil
}
