package stowfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
)

//Mode represents how artifacts are compressed before being stored as objects
type Mode uint8

//Enumerate available modes and their textual names
const (
	ModeIdentity Mode = iota
	ModeUnknown
	ModeS2
	ModeGzip

	ModeIdentityName = "identity"
	ModeS2Name       = "s2"
	ModeGzipName     = "gzip"
	ModeUnknownName  = "unknown"
)

//ModeFromName constructs a Mode from a textual name
func ModeFromName(name string) Mode {
	switch name {
	case "", ModeIdentityName:
		return ModeIdentity
	case ModeS2Name:
		return ModeS2
	case ModeGzipName:
		return ModeGzip
	}
	return ModeUnknown
}

//String returns the textual name of a Mode
func (m Mode) String() string {
	switch m {
	case ModeIdentity:
		return ModeIdentityName
	case ModeS2:
		return ModeS2Name
	case ModeGzip:
		return ModeGzipName
	}
	return ModeUnknownName
}

//Encode compresses an artifact's contents
func (m Mode) Encode(data []byte) ([]byte, error) {
	switch m {
	case ModeIdentity:
		return data, nil
	case ModeS2:
		return s2.EncodeBetter(nil, data), nil
	case ModeGzip:
		var buf bytes.Buffer
		wtr := gzip.NewWriter(&buf)
		if _, err := wtr.Write(data); err != nil {
			return nil, fmt.Errorf("Could not gzip compress %d bytes: %w", len(data), err)
		}
		if err := wtr.Close(); err != nil {
			return nil, fmt.Errorf("Could not finish gzip compression: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("Cannot compress with unknown compression mode")
}

//Decode decompresses an object's contents
func (m Mode) Decode(data []byte) ([]byte, error) {
	switch m {
	case ModeIdentity:
		return data, nil
	case ModeS2:
		out, err := s2.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("Could not s2 decompress %d bytes: %w", len(data), err)
		}
		return out, nil
	case ModeGzip:
		rdr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("Could not read gzip header: %w", err)
		}
		defer rdr.Close()
		out, err := io.ReadAll(rdr)
		if err != nil {
			return nil, fmt.Errorf("Could not gzip decompress %d bytes: %w", len(data), err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("Cannot decompress with unknown compression mode")
}
