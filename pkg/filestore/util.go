package filestore

import (
	"errors"
	"io/fs"
)

//IsNotExist reports if err indicates a child was absent
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
