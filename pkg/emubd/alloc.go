package emubd

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

//Allocated returns the set of blocks that currently have a backing artifact,
// that is blocks programmed since they were last erased
func (dev *Device) Allocated() (*bitset.BitSet, error) {
	if dev.closed {
		return nil, fmt.Errorf("Could not list allocated blocks: %w", ErrClosed)
	}

	names, err := dev.store.List()
	if err != nil {
		return nil, ioErr(err, "Could not list artifacts in %s", dev.store.Describe())
	}

	//a trailing partial block is addressable too
	count := uint64(dev.geo.BlockCount())
	if dev.geo.TotalSize%uint64(dev.geo.EraseSize) != 0 {
		count++
	}

	allocated := bitset.New(uint(count))
	for _, name := range names {
		if block, ok := parseBlockName(name); ok && uint64(block) < count {
			allocated.Set(uint(block))
		}
	}
	return allocated, nil
}
