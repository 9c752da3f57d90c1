package emubd

import (
	"fmt"
	"io"
)

//LinearReader presents a block device as a flat io.ReaderAt, translating
// arbitrary positions into granularity aligned block reads. Every block touched
// costs one Read call on the device.
type LinearReader struct {
	dev     BlockDevice
	geo     Geometry
	size    int64
	scratch []byte
}

var _ io.ReaderAt = (*LinearReader)(nil)

//NewLinearReader constructs a LinearReader over dev
func NewLinearReader(dev BlockDevice) *LinearReader {
	geo := dev.Info()
	lr := &LinearReader{
		dev:     dev,
		geo:     geo,
		scratch: make([]byte, geo.EraseSize),
	}
	if geo.TotalSize > 0 && geo.ReadSize > 0 {
		//no read may reach TotalSize, so the last addressable aligned end is below it
		lr.size = int64((geo.TotalSize - 1) / uint64(geo.ReadSize) * uint64(geo.ReadSize))
	}
	return lr
}

//Size is the number of bytes readable through this reader
func (lr *LinearReader) Size() int64 {
	return lr.size
}

//ReadAt fufills io.ReaderAt
func (lr *LinearReader) ReadAt(buf []byte, pos int64) (n int, err error) {
	switch {
	case pos < 0:
		return 0, fmt.Errorf("Could not read at negative position %d: %w", pos, ErrInvalidArgument)
	case pos >= lr.size:
		return 0, io.EOF
	}
	if remaining := lr.size - pos; int64(len(buf)) > remaining {
		buf, err = buf[:remaining], io.EOF
	}

	eraseSize, readSize := int64(lr.geo.EraseSize), int64(lr.geo.ReadSize)
	for len(buf) > 0 {
		block, inBlock := pos/eraseSize, pos%eraseSize
		start := inBlock - inBlock%readSize

		end := inBlock + int64(len(buf))
		if end > eraseSize {
			end = eraseSize
		}
		if rem := end % readSize; rem != 0 {
			end += readSize - rem
		}

		chunk := lr.scratch[:end-start]
		if readErr := lr.dev.Read(uint32(block), uint32(start), uint32(len(chunk)), chunk); readErr != nil {
			return n, fmt.Errorf("Could not read linear position %d: %w", pos, readErr)
		}

		copied := copy(buf, chunk[inBlock-start:])
		n += copied
		buf = buf[copied:]
		pos += int64(copied)
	}
	return n, err
}
