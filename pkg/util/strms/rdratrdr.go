package strms

import (
	"io"
)

//ReadAtReader is io.ReaderAt + io.Reader
type ReadAtReader interface {
	io.ReaderAt
	io.Reader
}

type readAtReader struct {
	cur, limit int64 //we protect underlying reader's position
	io.ReaderAt
}

var _ io.Reader = (*readAtReader)(nil)

//NewReadAtReader returns a reader that uses an io.ReaderAt's ReadAt in conjunction
// with its own position counter, stopping with io.EOF once limit bytes have been
// read. This is useful for io.ReaderAt implementations that have a fixed capacity
// but do not report io.EOF themselves (ex. block devices). A negative limit means
// reading continues until the io.ReaderAt reports an error.
func NewReadAtReader(rdrAt io.ReaderAt, limit int64) ReadAtReader {
	return &readAtReader{
		cur:      0,
		limit:    limit,
		ReaderAt: rdrAt,
	}
}

func (rar *readAtReader) Read(buf []byte) (n int, err error) {
	if rar.limit >= 0 {
		remaining := rar.limit - rar.cur
		if remaining < 1 {
			return 0, io.EOF
		}
		if int64(len(buf)) > remaining {
			buf = buf[:remaining]
		}
	}

	n, err = rar.ReadAt(buf, rar.cur)
	rar.cur += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}
