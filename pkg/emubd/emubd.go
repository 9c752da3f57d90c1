//Package emubd emulates a flash block device on top of a file store. Each
// logical erase block is a child artifact named by its index in lowercase hex,
// geometry and usage statistics are kept in the "info" and "stats" artifacts.
//
//A Device is meant to have a single owner, it performs no locking and callers
// wanting concurrent access must serialize it themselves.
package emubd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/tarndt/emubd/pkg/filestore"
	"github.com/tarndt/emubd/pkg/filestore/osfs"
	"github.com/tarndt/emubd/pkg/util"

	"go.uber.org/zap"
)

//Device is a block device emulated on a filestore.Store
type Device struct {
	store     filestore.Store
	ownsStore bool
	geo       Geometry
	stats     Stats
	closed    bool

	//options
	log                                 *zap.Logger
	requireStats, strictGeometry, fsync bool
}

//Open creates a device whose artifacts are files in the directory dir, which is
// created if it does not exist. The directory store is closed with the device.
func Open(dir string, geo Geometry, options ...Option) (*Device, error) {
	preset := new(Device)
	for _, opt := range options {
		opt.apply(preset)
	}

	store, err := osfs.New(dir, osfs.OptFsync(preset.fsync))
	switch {
	case errors.Is(err, osfs.ErrPathBuffer):
		return nil, fmt.Errorf("Could not create device in %q: %w: %w", dir, ErrAllocation, err)
	case errors.Is(err, fs.ErrInvalid):
		return nil, fmt.Errorf("Could not create device in %q: %w: %w", dir, ErrInvalidArgument, err)
	case err != nil:
		return nil, ioErr(err, "Could not create device in %q", dir)
	}

	dev, err := New(store, geo, options...)
	if err != nil {
		store.Close()
		return nil, err
	}
	dev.ownsStore = true
	return dev, nil
}

//New is the constructor for devices emulated on the provided store. The provided
// geometry is authoritative, previously persisted statistics are loaded so their
// counters continue incrementing.
func New(store filestore.Store, geo Geometry, options ...Option) (*Device, error) {
	if store == nil {
		return nil, invalidArg("Provided store was nil")
	}
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("Could not use provided geometry: %w", err)
	}

	dev := &Device{
		store: store,
		geo:   geo,
		log:   zap.NewNop(),
	}
	for _, opt := range options {
		opt.apply(dev)
	}

	if err := dev.checkInfo(); err != nil {
		return nil, err
	}
	if err := dev.loadStats(); err != nil {
		return nil, err
	}

	dev.log.Debug("emulated block device created",
		zap.String("store", store.Describe()),
		zap.Stringer("geometry", dev.geo),
		zap.Stringer("stats", dev.stats),
	)
	return dev, nil
}

//checkInfo compares any persisted geometry with the configured geometry
func (dev *Device) checkInfo() error {
	var persisted Geometry
	err := readRecord(dev.store, InfoName, &persisted)
	switch {
	case filestore.IsNotExist(err):
		return nil
	case err != nil:
		if dev.strictGeometry {
			return ioErr(err, "Could not load persisted geometry from %s", dev.store.Describe())
		}
		dev.log.Warn("ignoring unreadable persisted geometry", zap.String("store", dev.store.Describe()), zap.Error(err))
		return nil
	case persisted != dev.geo:
		if dev.strictGeometry {
			return invalidArg("Persisted geometry (%s) does not match configured geometry (%s)", persisted, dev.geo)
		}
		dev.log.Warn("persisted geometry differs from configuration, using configuration",
			zap.Stringer("persisted", persisted),
			zap.Stringer("configured", dev.geo),
		)
	}
	return nil
}

//loadStats restores the persisted statistics, starting from zero if there are none
func (dev *Device) loadStats() error {
	err := readRecord(dev.store, StatsName, &dev.stats)
	switch {
	case err == nil:
		return nil
	case filestore.IsNotExist(err) && !dev.requireStats:
		dev.stats = Stats{}
		return nil
	}
	return ioErr(err, "Could not load persisted statistics from %s", dev.store.Describe())
}

//blockName is the artifact name of a block, lowercase hex without leading zeros
func blockName(block uint32) string {
	return strconv.FormatUint(uint64(block), 16)
}

//parseBlockName is the inverse of blockName, anything it would not have
// produced is rejected
func parseBlockName(name string) (uint32, bool) {
	if name == "" || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	for _, char := range name {
		if !('0' <= char && char <= '9' || 'a' <= char && char <= 'f') {
			return 0, false
		}
	}
	block, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(block), true
}

//validate checks alignment and bounds before any I/O is performed
func (dev *Device) validate(op string, granularity, block, off, size uint32) error {
	switch {
	case dev.closed:
		return fmt.Errorf("Could not %s block %d: %w", op, block, ErrClosed)
	case off%granularity != 0 || size%granularity != 0:
		return invalidArg("Could not %s block %d: offset %d and size %d must be multiples of %d", op, block, off, size, granularity)
	case off >= dev.geo.EraseSize:
		return invalidArg("Could not %s block %d: offset %d is beyond the %d byte block", op, block, off, dev.geo.EraseSize)
	case uint64(block)*uint64(dev.geo.EraseSize)+uint64(off)+uint64(size) >= dev.geo.TotalSize:
		return invalidArg("Could not %s block %d: offset %d and size %d reach the end of the %d byte device", op, block, off, size, dev.geo.TotalSize)
	}
	return nil
}

//Read fills buf[:size] starting at offset off of block, continuing into the
// following blocks if size exceeds what remains of block. Regions with no
// backing artifact read as zeros. off must lie inside block (below EraseSize),
// otherwise ErrInvalidArgument is returned.
func (dev *Device) Read(block, off, size uint32, buf []byte) error {
	if err := dev.validate("read", dev.geo.ReadSize, block, off, size); err != nil {
		return err
	}
	if uint64(len(buf)) < uint64(size) {
		return invalidArg("Could not read block %d: buffer of %d bytes is smaller than size %d", block, len(buf), size)
	}

	buf = buf[:size]
	util.ZeroFill(buf)

	for len(buf) > 0 {
		count := dev.geo.EraseSize - off
		if uint32(len(buf)) < count {
			count = uint32(len(buf))
		}
		if err := dev.readBlock(block, off, buf[:count]); err != nil {
			return err
		}

		buf = buf[count:]
		block++
		off = 0
	}

	dev.stats.ReadCount++
	return nil
}

func (dev *Device) readBlock(block, off uint32, buf []byte) (err error) {
	f, err := dev.store.Open(blockName(block))
	if err != nil {
		if filestore.IsNotExist(err) {
			return nil //never programmed or erased, reads as zeros
		}
		return ioErr(err, "Could not open block %d for reading", block)
	}
	defer closeBlock(f, block, "reading", &err)

	n, err := f.ReadAt(buf, int64(off))
	switch {
	case err == io.EOF:
		util.ZeroFill(buf[n:])
	case err != nil:
		return ioErr(err, "Could not read %d bytes at offset %d of block %d", len(buf), off, block)
	}
	return nil
}

//Prog writes buf[:size] starting at offset off of block, continuing into the
// following blocks if size exceeds what remains of block. Bytes of a block
// outside the programmed range are left as they were. off must lie inside
// block (below EraseSize), otherwise ErrInvalidArgument is returned.
func (dev *Device) Prog(block, off, size uint32, buf []byte) error {
	if err := dev.validate("program", dev.geo.ProgSize, block, off, size); err != nil {
		return err
	}
	if uint64(len(buf)) < uint64(size) {
		return invalidArg("Could not program block %d: buffer of %d bytes is smaller than size %d", block, len(buf), size)
	}

	buf = buf[:size]
	for len(buf) > 0 {
		count := dev.geo.EraseSize - off
		if uint32(len(buf)) < count {
			count = uint32(len(buf))
		}
		if err := dev.progBlock(block, off, buf[:count]); err != nil {
			return err
		}

		buf = buf[count:]
		block++
		off = 0
	}

	dev.stats.ProgCount++
	return nil
}

func (dev *Device) progBlock(block, off uint32, buf []byte) (err error) {
	f, err := dev.store.OpenUpdate(blockName(block))
	if err != nil {
		return ioErr(err, "Could not open block %d for programming", block)
	}
	defer closeBlock(f, block, "programming", &err)

	n, err := f.WriteAt(buf, int64(off))
	switch {
	case err != nil:
		return ioErr(err, "Could not program %d bytes at offset %d of block %d", len(buf), off, block)
	case n < len(buf):
		return ioErr(io.ErrShortWrite, "Could not program %d bytes at offset %d of block %d (wrote %d)", len(buf), off, block, n)
	}
	return nil
}

//Erase returns size bytes worth of whole blocks starting at block to the erased
// state by removing their backing artifacts
func (dev *Device) Erase(block, off, size uint32) error {
	if err := dev.validate("erase", dev.geo.EraseSize, block, off, size); err != nil {
		return err
	}

	for remaining := size; remaining > 0; remaining -= dev.geo.EraseSize {
		if err := dev.eraseBlock(block); err != nil {
			return err
		}
		block++
	}

	dev.stats.EraseCount++
	return nil
}

func (dev *Device) eraseBlock(block uint32) error {
	name := blockName(block)
	info, err := dev.store.Stat(name)
	switch {
	case filestore.IsNotExist(err):
		return nil //already erased
	case err != nil:
		return ioErr(err, "Could not stat block %d before erasing", block)
	case !info.Mode().IsRegular():
		return nil //not ours to remove
	}

	if err = dev.store.Remove(name); err != nil && !filestore.IsNotExist(err) {
		return ioErr(err, "Could not erase block %d", block)
	}
	return nil
}

//Sync writes the geometry and statistics to the info and stats artifacts. If
// writing stats fails after info succeeded the persisted pair is inconsistent
// until the next successful Sync.
func (dev *Device) Sync() error {
	if dev.closed {
		return fmt.Errorf("Could not sync: %w", ErrClosed)
	}
	return dev.sync()
}

func (dev *Device) sync() error {
	if err := writeRecord(dev.store, InfoName, &dev.geo); err != nil {
		return ioErr(err, "Could not persist geometry to %s", dev.store.Describe())
	}
	if err := writeRecord(dev.store, StatsName, &dev.stats); err != nil {
		return ioErr(err, "Could not persist statistics to %s", dev.store.Describe())
	}
	return nil
}

//Info reports the device geometry
func (dev *Device) Info() Geometry {
	return dev.geo
}

//Stats reports the operation counters accumulated so far
func (dev *Device) Stats() Stats {
	return dev.stats
}

//BlockCount is the number of whole logical blocks the device holds
func (dev *Device) BlockCount() uint32 {
	return dev.geo.BlockCount()
}

//Close performs a final Sync and releases the device. The device is released
// even if the sync fails, in which case persisted statistics may be stale.
// Calling Close again does nothing.
func (dev *Device) Close() error {
	if dev.closed {
		return nil
	}
	dev.closed = true

	err := dev.sync()
	if err != nil {
		dev.log.Error("final sync failed, persisted state may be stale", zap.String("store", dev.store.Describe()), zap.Error(err))
		err = fmt.Errorf("Could not sync during close: %w", err)
	}

	if dev.ownsStore {
		if closeErr := dev.store.Close(); closeErr != nil && err == nil {
			err = ioErr(closeErr, "Could not close %s", dev.store.Describe())
		}
	}
	return err
}

func closeBlock(f io.Closer, block uint32, during string, err *error) {
	if closeErr := f.Close(); closeErr != nil && *err == nil {
		*err = ioErr(closeErr, "Could not close block %d after %s", block, during)
	}
}
