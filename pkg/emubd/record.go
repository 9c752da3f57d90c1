package emubd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tarndt/emubd/pkg/filestore"
)

//Names of the metadata artifacts kept alongside the blocks
const (
	InfoName  = "info"
	StatsName = "stats"
)

//Records are fixed-size little-endian images of their struct
var recordOrder = binary.LittleEndian

func encodeRecord(rec interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(rec))
	if err := binary.Write(&buf, recordOrder, rec); err != nil {
		return nil, fmt.Errorf("Could not encode %T record: %w", rec, err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte, rec interface{}) error {
	if expected := binary.Size(rec); len(data) != expected {
		return fmt.Errorf("%T record was %d bytes rather than %d: %w", rec, len(data), expected, io.ErrUnexpectedEOF)
	}
	return binary.Read(bytes.NewReader(data), recordOrder, rec)
}

//writeRecord replaces the named artifact with the record's image
func writeRecord(store filestore.Store, name string, rec interface{}) (err error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	f, err := store.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if n, err := f.WriteAt(data, 0); err != nil {
		return err
	} else if n < len(data) {
		return io.ErrShortWrite
	}
	return nil
}

//readRecord loads the named artifact into rec, which must be a pointer. An
// artifact that is not exactly the size of the record is an error.
func readRecord(store filestore.Store, name string, rec interface{}) (err error) {
	f, err := store.Open(name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	data := make([]byte, binary.Size(rec)+1) //one extra byte detects oversized records
	n, err := f.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return err
	}
	return decodeRecord(data[:n], rec)
}
