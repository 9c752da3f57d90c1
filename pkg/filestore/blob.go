package filestore

import (
	"fmt"
	"io"
	"io/fs"
)

//Blob is an in-memory File for stores that persist whole artifacts at a time.
// When closed, a Blob that was written to hands its contents to its commit func.
type Blob struct {
	name   string
	data   []byte
	commit func([]byte) error

	readOnly, dirty, closed bool
}

var _ File = (*Blob)(nil)

//NewBlob constructs a Blob holding data, a nil commit makes the Blob read-only
func NewBlob(name string, data []byte, commit func([]byte) error) *Blob {
	return &Blob{
		name:     name,
		data:     data,
		commit:   commit,
		readOnly: commit == nil,
	}
}

//NewEmptyBlob constructs a Blob that will commit on Close even if never written
// to, the in-memory equivalent of creating a file with O_TRUNC
func NewEmptyBlob(name string, commit func([]byte) error) *Blob {
	blob := NewBlob(name, nil, commit)
	blob.dirty = true
	return blob
}

//ReadAt fufills io.ReaderAt
func (blob *Blob) ReadAt(buf []byte, pos int64) (int, error) {
	switch {
	case blob.closed:
		return 0, &fs.PathError{Op: "read", Path: blob.name, Err: fs.ErrClosed}
	case pos < 0:
		return 0, &fs.PathError{Op: "read", Path: blob.name, Err: fs.ErrInvalid}
	case pos >= int64(len(blob.data)):
		return 0, io.EOF
	}

	n := copy(buf, blob.data[pos:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

//WriteAt fufills io.WriterAt
func (blob *Blob) WriteAt(buf []byte, pos int64) (int, error) {
	switch {
	case blob.closed:
		return 0, &fs.PathError{Op: "write", Path: blob.name, Err: fs.ErrClosed}
	case blob.readOnly:
		return 0, &fs.PathError{Op: "write", Path: blob.name, Err: fs.ErrPermission}
	case pos < 0:
		return 0, &fs.PathError{Op: "write", Path: blob.name, Err: fs.ErrInvalid}
	}

	if end := pos + int64(len(buf)); end > int64(len(blob.data)) {
		if end <= int64(cap(blob.data)) {
			oldLen := len(blob.data)
			blob.data = blob.data[:end]
			for i := oldLen; i < int(pos); i++ {
				blob.data[i] = 0 //gap between old end and write must read as zeros
			}
		} else {
			grown := make([]byte, end)
			copy(grown, blob.data)
			blob.data = grown
		}
	}
	blob.dirty = true
	return copy(blob.data[pos:], buf), nil
}

//Bytes returns the current contents of the Blob
func (blob *Blob) Bytes() []byte {
	return blob.data
}

//Close fufills io.Closer, committing the contents if they were modified
func (blob *Blob) Close() error {
	if blob.closed {
		return &fs.PathError{Op: "close", Path: blob.name, Err: fs.ErrClosed}
	}
	blob.closed = true

	if !blob.dirty || blob.commit == nil {
		return nil
	}
	if err := blob.commit(blob.data); err != nil {
		return fmt.Errorf("Could not commit %q: %w", blob.name, err)
	}
	return nil
}
