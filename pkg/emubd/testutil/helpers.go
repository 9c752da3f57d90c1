package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/tarndt/emubd/pkg/emubd"
	"github.com/tarndt/emubd/pkg/filestore"
	"github.com/tarndt/emubd/pkg/util"
	"github.com/tarndt/emubd/pkg/util/strms"
)

//StoreFactory provisions a fresh backing location and returns a func that opens
// a new store handle onto it. The suites close every handle they open before
// opening another, so implementations that lock their location are fine.
type StoreFactory func(t *testing.T) (open func(t *testing.T) filestore.Store)

//ScenarioGeometry is a small four block device
var ScenarioGeometry = emubd.Geometry{ReadSize: 16, ProgSize: 16, EraseSize: 512, TotalSize: 2048}

//CreateDevice constructs a device on store failing the test if that is not possible
func CreateDevice(t *testing.T, store filestore.Store, geo emubd.Geometry, options ...emubd.Option) *emubd.Device {
	t.Helper()

	dev, err := emubd.New(store, geo, options...)
	if err != nil {
		t.Fatalf("Could not create device on %s: %s", store.Describe(), err)
	}
	return dev
}

//CloseDevice closes dev and then store failing the test on error
func CloseDevice(t *testing.T, dev *emubd.Device, store filestore.Store) {
	t.Helper()

	if err := dev.Close(); err != nil {
		t.Fatalf("Failed to close device: %s", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %s", err)
	}
}

//Pattern returns count deterministic pseudo-random bytes, none of them zero
func Pattern(seed int64, count int) []byte {
	rnd := rand.New(rand.NewSource(seed))
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = byte(rnd.Intn(255) + 1)
	}
	return buf
}

//ExpectInvalid fails the test unless err is an emubd.ErrInvalidArgument
func ExpectInvalid(t *testing.T, err error, desc string) {
	t.Helper()

	switch {
	case err == nil:
		t.Fatalf("Expected %s to fail with an invalid argument error, but it succeeded", desc)
	case !errors.Is(err, emubd.ErrInvalidArgument):
		t.Fatalf("Expected %s to fail with an invalid argument error, got: %s", desc, err)
	}
}

//ExpectStats fails the test unless dev reports the expected counters
func ExpectStats(t *testing.T, dev *emubd.Device, expected emubd.Stats) {
	t.Helper()

	if actual := dev.Stats(); actual != expected {
		t.Fatalf("Expected stats to be %+v but they were %+v", expected, actual)
	}
}

//ExpectZeros reads size bytes at block/off and fails the test if any are non-zero
func ExpectZeros(t *testing.T, dev *emubd.Device, block, off, size uint32) {
	t.Helper()

	buf := make([]byte, size)
	if err := dev.Read(block, off, size, buf); err != nil {
		t.Fatalf("Failed to read %d bytes at offset %d of block %d: %s", size, off, block, err)
	}
	if !util.IsZeros(buf) {
		t.Fatalf("Expected %d bytes at offset %d of block %d to be zeros, found %s", size, off, block, hex.EncodeToString(buf))
	}
}

//ExpectBytes reads len(expected) bytes at block/off and fails the test if they differ
func ExpectBytes(t *testing.T, dev *emubd.Device, block, off uint32, expected []byte) {
	t.Helper()

	buf := make([]byte, len(expected))
	if err := dev.Read(block, off, uint32(len(buf)), buf); err != nil {
		t.Fatalf("Failed to read %d bytes at offset %d of block %d: %s", len(buf), off, block, err)
	}
	if !bytes.Equal(buf, expected) {
		t.Fatalf("Read of %d bytes at offset %d of block %d returned %s rather than %s", len(buf), off, block, hex.EncodeToString(buf), hex.EncodeToString(expected))
	}
}

//ExpectAllocated fails the test unless exactly the listed blocks have artifacts
func ExpectAllocated(t *testing.T, dev *emubd.Device, blocks ...uint) {
	t.Helper()

	allocated, err := dev.Allocated()
	if err != nil {
		t.Fatalf("Failed to list allocated blocks: %s", err)
	}
	if allocated.Count() != uint(len(blocks)) {
		t.Fatalf("Expected %d allocated blocks %v, found %d: %s", len(blocks), blocks, allocated.Count(), allocated)
	}
	for _, block := range blocks {
		if !allocated.Test(block) {
			t.Fatalf("Expected block %d to be allocated: %s", block, allocated)
		}
	}
}

//DeviceHash is the SHA256 of everything readable from dev
func DeviceHash(t *testing.T, dev emubd.BlockDevice) []byte {
	t.Helper()

	lr := emubd.NewLinearReader(dev)
	hashWtr := sha256.New()
	if n, err := io.Copy(hashWtr, strms.NewReadAtReader(lr, lr.Size())); err != nil {
		t.Fatalf("Failed to calculate SHA256 of device: %s", err)
	} else if n != lr.Size() {
		t.Fatalf("While calculating SHA256 of device %d bytes were found instead of %d", n, lr.Size())
	}
	return hashWtr.Sum(nil)
}
