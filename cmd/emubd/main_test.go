package main

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tarndt/emubd/cmd/emubd/conf"
	"github.com/tarndt/emubd/pkg/emubd"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

//a 4 block device whose final block ends exactly at the end of the device
var harnessFlags = []string{"-read-size=16", "-prog-size=16", "-erase-size=1KiB", "-total-size=4KiB"}

func TestCommands(t *testing.T) {
	for _, store := range []string{"os", "pebble", "stow-local"} {
		store := store
		t.Run(store, func(t *testing.T) {
			t.Parallel()
			testCommands(t, append(harnessFlags, "-store="+store, "-dir="+filepath.Join(t.TempDir(), "flash")))
		})
	}
	t.Run("stow-local-s2", func(t *testing.T) {
		t.Parallel()
		testCommands(t, append(harnessFlags, "-store=stow-local", "-compress=s2", "-dir="+t.TempDir()))
	})
}

func testCommands(t *testing.T, flags []string) {
	emptyHash := fmt.Sprintf("%x", sha256.Sum256(make([]byte, 4080)))

	if out := mustRun(t, flags, "hash"); !strings.HasPrefix(out, emptyHash) || !strings.Contains(out, "4080 bytes") {
		t.Fatalf("Empty device hashed to %q rather than %s", out, emptyHash)
	}

	if out := mustRun(t, flags, "fill", "1", "0xab"); !strings.Contains(out, "programmed 1024 bytes of block 1 with 0xab") {
		t.Fatalf("Unexpected fill output %q", out)
	}
	if out := mustRun(t, flags, "dump", "1"); !strings.Contains(out, "ab ab ab ab") || strings.Contains(out, " 00 ") {
		t.Fatalf("Dump of the filled block was unexpected:\n%s", out)
	}
	if out := mustRun(t, flags, "dump", "0"); strings.Contains(out, "ab") {
		t.Fatalf("Dump of an untouched block was unexpected:\n%s", out)
	}
	if out := mustRun(t, flags, "hash"); strings.HasPrefix(out, emptyHash) {
		t.Fatalf("Programmed device hashed as empty")
	}

	out := mustRun(t, flags, "info")
	for _, expected := range []string{"allocated: 1 of 4 blocks", "erase:     1024 bytes", "total:     4096 bytes", "1 programs"} {
		if !strings.Contains(out, expected) {
			t.Fatalf("Info output did not contain %q:\n%s", expected, out)
		}
	}

	//the final block can only be programmed short of the end of the device
	if out = mustRun(t, flags, "fill", "3", "7"); !strings.Contains(out, "programmed 1008 bytes of block 3") {
		t.Fatalf("Unexpected fill output %q", out)
	}

	core, logs := observer.New(zap.WarnLevel)
	if out = runCommand(t, zap.New(core), flags, "format"); !strings.Contains(out, "erased 3 blocks") {
		t.Fatalf("Unexpected format output %q", out)
	}
	if logs.FilterMessage("final block could not be erased").Len() != 1 {
		t.Fatalf("Expected a warning about the final block, found %v", logs.All())
	}
	if out = mustRun(t, flags, "info"); !strings.Contains(out, "allocated: 1 of 4 blocks") || !strings.Contains(out, "1 erases") {
		t.Fatalf("Unexpected info after format:\n%s", out)
	}

	t.Run("errors", func(t *testing.T) {
		for _, args := range [][]string{{"dump", "4"}, {"dump", "x"}, {"fill", "0", "256"}, {"fill", "-1", "0"}} {
			cfg, err := conf.Parse(append(append([]string{}, flags...), args...), map[string]string{}, io.Discard)
			if err != nil {
				t.Fatalf("Could not parse %v: %s", args, err)
			}
			if err = run(cfg, zap.NewNop(), io.Discard); err == nil {
				t.Fatalf("Command %v should have failed", args)
			}
		}
	})

	t.Run("strict-geometry", func(t *testing.T) {
		strict := append(append([]string{}, flags...), "-strict-geometry", "-total-size=8KiB", "info")
		cfg, err := conf.Parse(strict, map[string]string{}, io.Discard)
		if err != nil {
			t.Fatalf("Could not parse %v: %s", strict, err)
		}
		if err = run(cfg, zap.NewNop(), io.Discard); !errors.Is(err, emubd.ErrInvalidArgument) {
			t.Fatalf("Mismatched strict geometry returned %v", err)
		}
	})
}

func mustRun(t *testing.T, flags []string, args ...string) string {
	t.Helper()
	return runCommand(t, zap.NewNop(), flags, args...)
}

func runCommand(t *testing.T, logger *zap.Logger, flags []string, args ...string) string {
	t.Helper()
	cfg, err := conf.Parse(append(append([]string{}, flags...), args...), map[string]string{}, io.Discard)
	if err != nil {
		t.Fatalf("Could not parse %v: %s", args, err)
	}

	var out bytes.Buffer
	if err = run(cfg, logger, &out); err != nil {
		t.Fatalf("Could not run %v: %s", args, err)
	}
	return out.String()
}

func TestUsableBytes(t *testing.T) {
	geo := emubd.Geometry{ReadSize: 4, ProgSize: 8, EraseSize: 64, TotalSize: 200}
	for _, tc := range []struct {
		block, granularity, expected uint32
		fails                        bool
	}{
		{block: 0, granularity: 4, expected: 64},
		{block: 2, granularity: 4, expected: 64},
		{block: 3, granularity: 4, expected: 4},
		{block: 3, granularity: 8, fails: true},
		{block: 4, granularity: 4, fails: true},
	} {
		usable, err := usableBytes(geo, tc.block, tc.granularity)
		switch {
		case tc.fails && err == nil:
			t.Fatalf("Block %d at granularity %d should have failed", tc.block, tc.granularity)
		case !tc.fails && err != nil:
			t.Fatalf("Could not size block %d at granularity %d: %s", tc.block, tc.granularity, err)
		case usable != tc.expected:
			t.Fatalf("Block %d at granularity %d had %d usable bytes rather than %d", tc.block, tc.granularity, usable, tc.expected)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(zap.DebugLevel)
	if err != nil {
		t.Fatalf("Could not create logger: %s", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("Logger should have debug enabled")
	}
}
