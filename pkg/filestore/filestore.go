//Package filestore describes the hierarchical file store an emulated block
// device keeps its artifacts in, along with helpers shared by the implementations
// in the sub-packages (osfs, stowfs, pebblefs and memfs).
package filestore

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
)

//Store is a single directory of named child artifacts. Absence of a child must
// be reported with an error wrapping fs.ErrNotExist. Implementations are not
// required to be safe for concurrent use.
type Store interface {
	//Open opens an existing child for reading
	Open(name string) (File, error)
	//OpenUpdate opens a child for reading and in-place writing, creating it if
	// absent, and never truncating it
	OpenUpdate(name string) (File, error)
	//Create opens a child for writing, truncating any prior contents
	Create(name string) (File, error)
	//Remove deletes a child
	Remove(name string) error
	//Stat describes a child
	Stat(name string) (fs.FileInfo, error)
	//List returns the names of all children in no particular order
	List() ([]string, error)
	//Describe is a human readable description of where artifacts are kept
	Describe() string
	io.Closer
}

//File is an open child of a Store. ReadAt reports io.EOF for reads past the end
// of the artifact and WriteAt extends it as needed.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

//ValidName rejects child names a flat store cannot represent
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("Child name %q is reserved: %w", name, fs.ErrInvalid)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("Child name %q contains a path separator: %w", name, fs.ErrInvalid)
	}
	return nil
}

//NotExist builds the error stores return for an absent child
func NotExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

//FileInfo is a simple fs.FileInfo for stores that do not have one of their own
type FileInfo struct {
	FileName string
	FileSize int64
	FileMode fs.FileMode
	Modified time.Time
}

var _ fs.FileInfo = FileInfo{}

func (fi FileInfo) Name() string       { return fi.FileName }
func (fi FileInfo) Size() int64        { return fi.FileSize }
func (fi FileInfo) Mode() fs.FileMode  { return fi.FileMode }
func (fi FileInfo) ModTime() time.Time { return fi.Modified }
func (fi FileInfo) IsDir() bool        { return fi.FileMode.IsDir() }
func (fi FileInfo) Sys() interface{}   { return nil }
