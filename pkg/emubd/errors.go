package emubd

import (
	"fmt"

	"github.com/tarndt/emubd/pkg/util/consterr"
)

//Error kinds returned by a Device, test for them with errors.Is. Causes from
// the underlying file store are wrapped alongside them.
const (
	//ErrInvalidArgument means an alignment or bounds precondition was violated,
	// no I/O was performed
	ErrInvalidArgument = consterr.ConstErr("Invalid argument")
	//ErrIO means the file store failed unexpectedly
	ErrIO = consterr.ConstErr("I/O error")
	//ErrAllocation means working memory for the device could not be reserved
	ErrAllocation = consterr.ConstErr("Could not allocate working memory")
	//ErrClosed means the device has been closed
	ErrClosed = consterr.ConstErr("Device is closed")
)

func invalidArg(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

func ioErr(cause error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrIO, cause)
}
