package emubd

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tarndt/emubd/pkg/filestore/memfs"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"
)

var testGeo = Geometry{ReadSize: 16, ProgSize: 16, EraseSize: 512, TotalSize: 2048}

func createMemDevice(t *testing.T, options ...Option) (*Device, *memfs.Store) {
	t.Helper()

	mem := memfs.New()
	dev, err := New(mem, testGeo, options...)
	if err != nil {
		t.Fatalf("Could not create device: %s", err)
	}
	return dev, mem
}

func expectErr(t *testing.T, err error, targets ...error) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected an error matching %v but there was none", targets)
	}
	for _, target := range targets {
		if !errors.Is(err, target) {
			t.Fatalf("Expected error to match %q, got: %s", target, err)
		}
	}
}

func TestBlockNames(t *testing.T) {
	for block, expected := range map[uint32]string{0: "0", 9: "9", 10: "a", 255: "ff", 4096: "1000", ^uint32(0): "ffffffff"} {
		if actual := blockName(block); actual != expected {
			t.Fatalf("Block %d was named %q rather than %q", block, actual, expected)
		}
		if parsed, ok := parseBlockName(expected); !ok || parsed != block {
			t.Fatalf("Name %q parsed to %d (ok: %t) rather than %d", expected, parsed, ok, block)
		}
	}

	for _, name := range []string{"", "00", "0a", "A", "info", "stats", "1g", "100000000", "-1"} {
		if block, ok := parseBlockName(name); ok {
			t.Fatalf("Name %q should not parse as a block but parsed as %d", name, block)
		}
	}
}

func TestRecords(t *testing.T) {
	t.Run("sizes", func(t *testing.T) {
		geoData, err := encodeRecord(&testGeo)
		if err != nil {
			t.Fatalf("Could not encode geometry: %s", err)
		}
		statsData, err := encodeRecord(&Stats{ReadCount: 1, ProgCount: 2, EraseCount: 3})
		if err != nil {
			t.Fatalf("Could not encode stats: %s", err)
		}

		switch {
		case len(geoData) != 20:
			t.Fatalf("Geometry record was %d bytes rather than 20", len(geoData))
		case len(statsData) != 24:
			t.Fatalf("Stats record was %d bytes rather than 24", len(statsData))
		case statsData[0] != 1 || statsData[8] != 2 || statsData[16] != 3:
			t.Fatalf("Stats record was not little-endian: %v", statsData)
		}

		var decoded Stats
		if err = decodeRecord(statsData, &decoded); err != nil {
			t.Fatalf("Could not decode stats: %s", err)
		} else if decoded != (Stats{ReadCount: 1, ProgCount: 2, EraseCount: 3}) {
			t.Fatalf("Decoded stats %+v did not match those encoded", decoded)
		}
	})

	t.Run("wrong-size", func(t *testing.T) {
		var stats Stats
		expectErr(t, decodeRecord(make([]byte, 23), &stats), io.ErrUnexpectedEOF)
		expectErr(t, decodeRecord(make([]byte, 25), &stats), io.ErrUnexpectedEOF)
	})

	t.Run("oversized-artifact", func(t *testing.T) {
		mem := memfs.New()
		mem.Put(StatsName, make([]byte, 30))
		var stats Stats
		expectErr(t, readRecord(mem, StatsName, &stats), io.ErrUnexpectedEOF)
	})
}

func TestGeometry(t *testing.T) {
	t.Run("validate", func(t *testing.T) {
		if err := testGeo.Validate(); err != nil {
			t.Fatalf("Valid geometry was rejected: %s", err)
		}

		for _, zeroed := range []func(*Geometry){
			func(geo *Geometry) { geo.ReadSize = 0 },
			func(geo *Geometry) { geo.ProgSize = 0 },
			func(geo *Geometry) { geo.EraseSize = 0 },
			func(geo *Geometry) { geo.TotalSize = 0 },
		} {
			geo := testGeo
			zeroed(&geo)
			expectErr(t, geo.Validate(), ErrInvalidArgument)
			if _, err := New(memfs.New(), geo); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("Expected device creation with geometry %+v to fail as invalid, got: %v", geo, err)
			}
		}
	})

	t.Run("strings", func(t *testing.T) {
		if str := testGeo.String(); !strings.Contains(str, "2.0 KiB") || !strings.Contains(str, "4 512 B blocks") {
			t.Fatalf("Unexpected geometry description %q", str)
		}
		if str := (Stats{ReadCount: 1234567}).String(); !strings.HasPrefix(str, "1,234,567 reads") {
			t.Fatalf("Unexpected stats description %q", str)
		}
		if str := (Stats{EraseCount: math.MaxUint64}).String(); !strings.HasSuffix(str, "18,446,744,073,709,551,615 erases") {
			t.Fatalf("Unexpected description of saturated counters %q", str)
		}
	})

	t.Run("block-count", func(t *testing.T) {
		geo := testGeo
		geo.TotalSize = 2047
		if count := geo.BlockCount(); count != 3 {
			t.Fatalf("Expected 3 whole blocks in %d bytes, found %d", geo.TotalSize, count)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("nil-store", func(t *testing.T) {
		_, err := New(nil, testGeo)
		expectErr(t, err, ErrInvalidArgument)
	})

	t.Run("no-artifacts-created", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		if names, _ := mem.List(); len(names) != 0 {
			t.Fatalf("Creating a device wrote artifacts: %v", names)
		}
		if stats := dev.Stats(); stats != (Stats{}) {
			t.Fatalf("Fresh device had non-zero stats: %+v", stats)
		}
	})

	t.Run("require-stats", func(t *testing.T) {
		_, err := New(memfs.New(), testGeo, OptRequireStats(true))
		expectErr(t, err, ErrIO, fs.ErrNotExist)
	})

	t.Run("corrupt-stats", func(t *testing.T) {
		for _, size := range []int{0, 10, 25} {
			mem := memfs.New()
			mem.Put(StatsName, make([]byte, size))
			_, err := New(mem, testGeo)
			expectErr(t, err, ErrIO, io.ErrUnexpectedEOF)
		}
	})

	t.Run("unreadable-stats", func(t *testing.T) {
		mem := memfs.New()
		mem.Put(StatsName, make([]byte, 24))
		mem.FailOn(memfs.OpRead, StatsName, fs.ErrPermission)
		_, err := New(mem, testGeo)
		expectErr(t, err, ErrIO, fs.ErrPermission)
	})

	t.Run("persisted-stats", func(t *testing.T) {
		mem := memfs.New()
		data, err := encodeRecord(&Stats{ReadCount: 7, ProgCount: 8, EraseCount: 9})
		if err != nil {
			t.Fatalf("Could not encode stats: %s", err)
		}
		mem.Put(StatsName, data)

		dev, err := New(mem, testGeo, OptRequireStats(true))
		if err != nil {
			t.Fatalf("Could not create device: %s", err)
		}
		if stats := dev.Stats(); stats != (Stats{ReadCount: 7, ProgCount: 8, EraseCount: 9}) {
			t.Fatalf("Persisted stats were not loaded: %+v", stats)
		}
	})

	t.Run("geometry-mismatch", func(t *testing.T) {
		other := testGeo
		other.EraseSize *= 2
		data, err := encodeRecord(&other)
		if err != nil {
			t.Fatalf("Could not encode geometry: %s", err)
		}

		t.Run("lenient", func(t *testing.T) {
			mem := memfs.New()
			mem.Put(InfoName, data)

			core, logs := observer.New(zapcore.WarnLevel)
			dev, err := New(mem, testGeo, OptLogger{Logger: zap.New(core)})
			if err != nil {
				t.Fatalf("Mismatched geometry should only warn: %s", err)
			}
			if dev.Info() != testGeo {
				t.Fatalf("Configured geometry should win, found %+v", dev.Info())
			}
			if count := logs.FilterMessageSnippet("geometry differs").Len(); count != 1 {
				t.Fatalf("Expected one geometry warning, found %d: %v", count, logs.All())
			}
		})

		t.Run("strict", func(t *testing.T) {
			mem := memfs.New()
			mem.Put(InfoName, data)
			_, err := New(mem, testGeo, OptStrictGeometry(true))
			expectErr(t, err, ErrInvalidArgument)
		})
	})

	t.Run("corrupt-info", func(t *testing.T) {
		mem := memfs.New()
		mem.Put(InfoName, []byte{1, 2, 3})
		if _, err := New(mem, testGeo); err != nil {
			t.Fatalf("Unreadable geometry should only warn: %s", err)
		}
		_, err := New(mem, testGeo, OptStrictGeometry(true))
		expectErr(t, err, ErrIO, io.ErrUnexpectedEOF)
	})
}

func TestOpen(t *testing.T) {
	t.Run("creates-dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "device")
		dev, err := Open(dir, testGeo, OptFsync(true))
		if err != nil {
			t.Fatalf("Could not open device in %q: %s", dir, err)
		}
		data := bytes.Repeat([]byte{0x5A}, 16)
		if err = dev.Prog(1, 0, 16, data); err != nil {
			t.Fatalf("Could not program block 1: %s", err)
		}
		if err = dev.Close(); err != nil {
			t.Fatalf("Could not close device: %s", err)
		}

		for _, name := range []string{"1", InfoName, StatsName} {
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Fatalf("Expected artifact %q to exist: %s", name, err)
			}
		}

		t.Run("existing-dir", func(t *testing.T) {
			dev, err := Open(dir, testGeo, OptRequireStats(true), OptStrictGeometry(true))
			if err != nil {
				t.Fatalf("Could not reopen device in %q: %s", dir, err)
			}
			if stats := dev.Stats(); stats != (Stats{ProgCount: 1}) {
				t.Fatalf("Reopened device had stats %+v", stats)
			}
			buf := make([]byte, 16)
			if err = dev.Read(1, 0, 16, buf); err != nil {
				t.Fatalf("Could not read block 1: %s", err)
			} else if !bytes.Equal(buf, data) {
				t.Fatalf("Block 1 read back as %v", buf)
			}
			if err = dev.Close(); err != nil {
				t.Fatalf("Could not close device: %s", err)
			}
		})
	})

	t.Run("path-too-long", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), strings.Repeat("d", unix.PathMax))
		_, err := Open(dir, testGeo)
		expectErr(t, err, ErrAllocation)
	})

	t.Run("not-a-dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(path, []byte("hi"), 0666); err != nil {
			t.Fatalf("Could not create file: %s", err)
		}
		_, err := Open(path, testGeo)
		expectErr(t, err, ErrIO, unix.ENOTDIR)
	})

	t.Run("empty-path", func(t *testing.T) {
		_, err := Open("", testGeo)
		expectErr(t, err, ErrInvalidArgument)
	})

	t.Run("bad-geometry", func(t *testing.T) {
		_, err := Open(t.TempDir(), Geometry{})
		expectErr(t, err, ErrInvalidArgument)
	})
}

func TestNoIOOnInvalid(t *testing.T) {
	dev, mem := createMemDevice(t)
	buf := make([]byte, 1024)

	ops := []memfs.Op{memfs.OpOpen, memfs.OpOpenUpdate, memfs.OpCreate, memfs.OpRemove, memfs.OpStat, memfs.OpList, memfs.OpRead, memfs.OpWrite, memfs.OpClose}
	before := make(map[memfs.Op]int, len(ops))
	for _, op := range ops {
		before[op] = mem.Calls(op)
	}

	for desc, err := range map[string]error{
		"misaligned read":    dev.Read(0, 8, 16, buf),
		"misaligned program": dev.Prog(0, 0, 24, buf),
		"misaligned erase":   dev.Erase(0, 16, 512),
		"read at total":      dev.Read(3, 496, 16, buf),
		"program past end":   dev.Prog(4, 0, 16, buf),
		"erase at total":     dev.Erase(0, 0, 2048),
		"short read buffer":  dev.Read(0, 0, 32, buf[:16]),
		"offset past block":  dev.Prog(0, 512, 16, buf),
	} {
		expectErr(t, err, ErrInvalidArgument)
		for _, op := range ops {
			if calls := mem.Calls(op); calls != before[op] {
				t.Fatalf("Rejected %s performed %d %s calls", desc, calls-before[op], op)
			}
		}
	}

	if stats := dev.Stats(); stats != (Stats{}) {
		t.Fatalf("Rejected calls changed stats: %+v", stats)
	}
}

func TestStoreFailures(t *testing.T) {
	data := bytes.Repeat([]byte{0xC3}, 32)
	buf := make([]byte, 32)

	t.Run("prog", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		mem.FailOn(memfs.OpOpenUpdate, "0", fs.ErrPermission)
		expectErr(t, dev.Prog(0, 0, 32, data), ErrIO, fs.ErrPermission)

		mem.FailOn(memfs.OpOpenUpdate, "0", nil)
		mem.FailOn(memfs.OpWrite, "0", unix.ENOSPC)
		expectErr(t, dev.Prog(0, 0, 32, data), ErrIO, unix.ENOSPC)

		mem.FailOn(memfs.OpWrite, "0", nil)
		mem.FailOn(memfs.OpClose, "0", unix.EIO)
		expectErr(t, dev.Prog(0, 0, 32, data), ErrIO, unix.EIO)
		if stats := dev.Stats(); stats.ProgCount != 0 {
			t.Fatalf("Failed programs were counted: %+v", stats)
		}

		mem.FailOn(memfs.OpClose, "0", nil)
		if err := dev.Prog(0, 0, 32, data); err != nil {
			t.Fatalf("Device was not usable after failures: %s", err)
		}
		if stats := dev.Stats(); stats.ProgCount != 1 {
			t.Fatalf("Expected one counted program: %+v", stats)
		}
	})

	t.Run("read", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		if err := dev.Prog(0, 0, 32, data); err != nil {
			t.Fatalf("Could not program block 0: %s", err)
		}

		mem.FailOn(memfs.OpRead, "0", unix.EIO)
		expectErr(t, dev.Read(0, 0, 32, buf), ErrIO, unix.EIO)
		mem.FailOn(memfs.OpRead, "0", nil)
		mem.FailOn(memfs.OpOpen, "0", fs.ErrPermission)
		expectErr(t, dev.Read(0, 0, 32, buf), ErrIO, fs.ErrPermission)
		if stats := dev.Stats(); stats.ReadCount != 0 {
			t.Fatalf("Failed reads were counted: %+v", stats)
		}

		//a missing block is never an error
		mem.FailOn(memfs.OpOpen, "0", nil)
		if err := dev.Read(1, 0, 32, buf); err != nil {
			t.Fatalf("Read of missing block failed: %s", err)
		}
	})

	t.Run("erase", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		if err := dev.Prog(0, 0, 32, data); err != nil {
			t.Fatalf("Could not program block 0: %s", err)
		}

		mem.FailOn(memfs.OpStat, "0", fs.ErrPermission)
		expectErr(t, dev.Erase(0, 0, 512), ErrIO, fs.ErrPermission)
		mem.FailOn(memfs.OpStat, "0", nil)
		mem.FailOn(memfs.OpRemove, "0", fs.ErrPermission)
		expectErr(t, dev.Erase(0, 0, 512), ErrIO, fs.ErrPermission)
		if stats := dev.Stats(); stats.EraseCount != 0 {
			t.Fatalf("Failed erases were counted: %+v", stats)
		}
		if _, exists := mem.Contents("0"); !exists {
			t.Fatalf("Block 0 was removed despite the failure")
		}
	})

	t.Run("erase-directory", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		mem.Mkdir("1")
		if err := dev.Erase(1, 0, 512); err != nil {
			t.Fatalf("Erase of a directory entry should be treated as already erased: %s", err)
		}
		if _, err := mem.Stat("1"); err != nil {
			t.Fatalf("Directory entry was disturbed by erase: %s", err)
		}
	})

	t.Run("allocated", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		mem.FailOn(memfs.OpList, "", unix.EIO)
		_, err := dev.Allocated()
		expectErr(t, err, ErrIO, unix.EIO)
	})
}

func TestSyncClose(t *testing.T) {
	t.Run("sync", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		if err := dev.Erase(0, 0, 512); err != nil {
			t.Fatalf("Could not erase block 0: %s", err)
		}
		if err := dev.Sync(); err != nil {
			t.Fatalf("Could not sync: %s", err)
		}

		raw, exists := mem.Contents(StatsName)
		if !exists {
			t.Fatalf("Stats were not persisted")
		}
		var stats Stats
		if err := decodeRecord(raw, &stats); err != nil {
			t.Fatalf("Persisted stats were unreadable: %s", err)
		} else if stats != (Stats{EraseCount: 1}) {
			t.Fatalf("Persisted stats were %+v", stats)
		}

		//sync truncates a previously longer record
		mem.Put(InfoName, make([]byte, 100))
		if err := dev.Sync(); err != nil {
			t.Fatalf("Could not sync: %s", err)
		}
		if raw, _ = mem.Contents(InfoName); len(raw) != 20 {
			t.Fatalf("Persisted geometry was %d bytes", len(raw))
		}
	})

	t.Run("sync-failure", func(t *testing.T) {
		dev, mem := createMemDevice(t)
		mem.FailOn(memfs.OpCreate, StatsName, fs.ErrPermission)
		expectErr(t, dev.Sync(), ErrIO, fs.ErrPermission)
		if _, exists := mem.Contents(InfoName); !exists {
			t.Fatalf("Geometry should have been persisted before the stats failure")
		}
	})

	t.Run("close", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		dev, mem := createMemDevice(t, OptLogger{Logger: zap.New(core)})
		if err := dev.Prog(0, 0, 16, make([]byte, 16)); err != nil {
			t.Fatalf("Could not program block 0: %s", err)
		}

		mem.FailOn(memfs.OpCreate, InfoName, fs.ErrPermission)
		expectErr(t, dev.Close(), ErrIO, fs.ErrPermission)
		if logs.Len() != 1 {
			t.Fatalf("Expected the failed close to be logged once, found %d entries", logs.Len())
		}
		if err := dev.Close(); err != nil {
			t.Fatalf("Second close should do nothing: %s", err)
		}

		buf := make([]byte, 16)
		expectErr(t, dev.Read(0, 0, 16, buf), ErrClosed)
		expectErr(t, dev.Prog(0, 0, 16, buf), ErrClosed)
		expectErr(t, dev.Erase(0, 0, 512), ErrClosed)
		expectErr(t, dev.Sync(), ErrClosed)
		_, err := dev.Allocated()
		expectErr(t, err, ErrClosed)

		if dev.Info() != testGeo || dev.Stats() != (Stats{ProgCount: 1}) {
			t.Fatalf("Accessors should still answer after close: %+v %+v", dev.Info(), dev.Stats())
		}
	})

	t.Run("owned-store", func(t *testing.T) {
		mem := memfs.New()
		dev, err := New(mem, testGeo)
		if err != nil {
			t.Fatalf("Could not create device: %s", err)
		}
		if err = dev.Close(); err != nil {
			t.Fatalf("Could not close device: %s", err)
		}
		if _, err = mem.List(); err != nil {
			t.Fatalf("Store provided to New should remain open after close: %s", err)
		}
	})
}

func TestAllocated(t *testing.T) {
	dev, mem := createMemDevice(t)
	for _, block := range []uint32{0, 2} {
		if err := dev.Prog(block, 0, 16, make([]byte, 16)); err != nil {
			t.Fatalf("Could not program block %d: %s", block, err)
		}
	}
	mem.Put("zz", nil)
	mem.Put("ff", nil) //beyond the end of the device

	allocated, err := dev.Allocated()
	switch {
	case err != nil:
		t.Fatalf("Could not list allocated blocks: %s", err)
	case allocated.Count() != 2 || !allocated.Test(0) || !allocated.Test(2):
		t.Fatalf("Expected blocks 0 and 2 to be allocated, found %s", allocated)
	}
}
