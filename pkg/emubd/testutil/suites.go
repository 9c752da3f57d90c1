package testutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/tarndt/emubd/pkg/emubd"
)

//TestDevice runs every suite in this package against stores built by factory
func TestDevice(t *testing.T, factory StoreFactory, geos ...emubd.Geometry) {
	TestScenarios(t, factory)

	if len(geos) < 1 {
		geos = []emubd.Geometry{ScenarioGeometry}
	}
	for _, geo := range geos {
		t.Run(geo.String(), func(t *testing.T) {
			TestReadEmpty(t, factory, geo)
			TestProgRead(t, factory, geo)
			TestPartialProg(t, factory, geo)
			TestErase(t, factory, geo)
			TestAlignment(t, factory, geo)
			TestBounds(t, factory, geo)
			TestPersistence(t, factory, geo)
			TestHash(t, factory, geo)
		})
	}
}

//withDevice runs fn against a device on a freshly provisioned store and closes
// both afterwards
func withDevice(t *testing.T, factory StoreFactory, geo emubd.Geometry, fn func(t *testing.T, dev *emubd.Device)) {
	t.Helper()

	store := factory(t)(t)
	dev := CreateDevice(t, store, geo)
	fn(t, dev)
	CloseDevice(t, dev, store)
}

//lastAligned is the largest multiple of granularity strictly below limit
func lastAligned(limit uint64, granularity uint32) uint32 {
	return uint32((limit - 1) / uint64(granularity) * uint64(granularity))
}

//TestScenarios walks through the basic program, read and erase cycle on a four
// block device, then confirms a misaligned read is rejected
func TestScenarios(t *testing.T, factory StoreFactory) {
	t.Run("scenarios", func(t *testing.T) {
		t.Run("program-read-erase", func(t *testing.T) {
			withDevice(t, factory, ScenarioGeometry, func(t *testing.T, dev *emubd.Device) {
				if count := dev.BlockCount(); count != 4 {
					t.Fatalf("Expected 4 blocks but device has %d", count)
				}

				data := bytes.Repeat([]byte{0xAA}, 16)
				if err := dev.Prog(0, 0, 16, data); err != nil {
					t.Fatalf("Failed to program block 0: %s", err)
				}
				ExpectBytes(t, dev, 0, 0, data)

				if err := dev.Erase(0, 0, 512); err != nil {
					t.Fatalf("Failed to erase block 0: %s", err)
				}
				ExpectZeros(t, dev, 0, 0, 16)
				ExpectStats(t, dev, emubd.Stats{ReadCount: 2, ProgCount: 1, EraseCount: 1})
			})
		})

		t.Run("misaligned-read", func(t *testing.T) {
			withDevice(t, factory, ScenarioGeometry, func(t *testing.T, dev *emubd.Device) {
				buf := make([]byte, 16)
				ExpectInvalid(t, dev.Read(0, 1, 16, buf), "read at offset 1")
				ExpectStats(t, dev, emubd.Stats{})
			})
		})
	})
}

//TestReadEmpty verifies a fresh device reads as zeros without creating artifacts
func TestReadEmpty(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("read-empty", func(t *testing.T) {
		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			var reads uint64

			t.Run("per-block", func(t *testing.T) {
				for block := uint32(0); block < dev.BlockCount(); block++ {
					size := geo.EraseSize
					if end := uint64(block+1) * uint64(geo.EraseSize); end >= geo.TotalSize {
						size = lastAligned(geo.TotalSize-uint64(block)*uint64(geo.EraseSize), geo.ReadSize)
					}
					ExpectZeros(t, dev, block, 0, size)
					reads++
				}
			})

			t.Run("whole-device", func(t *testing.T) {
				ExpectZeros(t, dev, 0, 0, lastAligned(geo.TotalSize, geo.ReadSize))
				reads++
			})

			t.Run("dirty-buffer", func(t *testing.T) {
				buf := bytes.Repeat([]byte{0xFF}, int(geo.ReadSize)*2)
				if err := dev.Read(0, 0, geo.ReadSize, buf); err != nil {
					t.Fatalf("Failed to read into dirty buffer: %s", err)
				}
				reads++
				for i, val := range buf[:geo.ReadSize] {
					if val != 0 {
						t.Fatalf("Expected byte %d to be zeroed, found %d", i, val)
					}
				}
				for i, val := range buf[geo.ReadSize:] {
					if val != 0xFF {
						t.Fatalf("Expected byte %d beyond size to be untouched, found %d", int(geo.ReadSize)+i, val)
					}
				}
			})

			ExpectStats(t, dev, emubd.Stats{ReadCount: reads})
			ExpectAllocated(t, dev)
		})
	})
}

//TestProgRead programs distinct patterns and reads them back, within blocks and
// across block boundaries
func TestProgRead(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("prog-read", func(t *testing.T) {
		if geo.BlockCount() < 3 {
			t.Skipf("Three blocks required for test")
		}

		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			t.Run("whole-block", func(t *testing.T) {
				data := Pattern(1, int(geo.EraseSize))
				if err := dev.Prog(1, 0, geo.EraseSize, data); err != nil {
					t.Fatalf("Failed to program block 1: %s", err)
				}
				ExpectBytes(t, dev, 1, 0, data)
				ExpectZeros(t, dev, 0, 0, geo.EraseSize)
				ExpectAllocated(t, dev, 1)
			})

			t.Run("span-blocks", func(t *testing.T) {
				//program ends two program units into block 2 and begins two before it
				span := 2 * geo.ProgSize
				off := geo.EraseSize - span
				data := Pattern(2, int(2*span))
				if err := dev.Prog(1, off, 2*span, data); err != nil {
					t.Fatalf("Failed to program across blocks 1 and 2: %s", err)
				}
				ExpectStats(t, dev, emubd.Stats{ReadCount: 2, ProgCount: 2})

				readSpan := make([]byte, 2*span)
				if err := dev.Read(1, off, 2*span, readSpan); err != nil {
					t.Fatalf("Failed to read across blocks 1 and 2: %s", err)
				}
				if !bytes.Equal(readSpan, data) {
					t.Fatalf("Data read across blocks did not match data programmed")
				}
				ExpectBytes(t, dev, 2, 0, data[span:])
				ExpectStats(t, dev, emubd.Stats{ReadCount: 4, ProgCount: 2})
				ExpectAllocated(t, dev, 1, 2)
			})

			t.Run("short-buffer", func(t *testing.T) {
				ExpectInvalid(t, dev.Prog(0, 0, geo.ProgSize, make([]byte, geo.ProgSize-1)), "program from a short buffer")
				ExpectInvalid(t, dev.Read(0, 0, geo.ReadSize, make([]byte, geo.ReadSize-1)), "read into a short buffer")
				ExpectStats(t, dev, emubd.Stats{ReadCount: 4, ProgCount: 2})
			})
		})
	})
}

//TestPartialProg verifies programming part of a block leaves the rest intact
func TestPartialProg(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("partial-prog", func(t *testing.T) {
		if geo.EraseSize < 3*geo.ProgSize {
			t.Skipf("Three program units per block required for test")
		}

		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			t.Run("over-existing", func(t *testing.T) {
				orig := Pattern(3, int(geo.EraseSize))
				if err := dev.Prog(0, 0, geo.EraseSize, orig); err != nil {
					t.Fatalf("Failed to program block 0: %s", err)
				}

				patch := Pattern(4, int(geo.ProgSize))
				if err := dev.Prog(0, geo.ProgSize, geo.ProgSize, patch); err != nil {
					t.Fatalf("Failed to program part of block 0: %s", err)
				}

				expected := append([]byte(nil), orig...)
				copy(expected[geo.ProgSize:], patch)
				ExpectBytes(t, dev, 0, 0, expected)
			})

			t.Run("into-fresh", func(t *testing.T) {
				off := 2 * geo.ProgSize
				data := Pattern(5, int(geo.ProgSize))
				if err := dev.Prog(1, off, geo.ProgSize, data); err != nil {
					t.Fatalf("Failed to program middle of block 1: %s", err)
				}

				expected := make([]byte, geo.EraseSize)
				copy(expected[off:], data)
				ExpectBytes(t, dev, 1, 0, expected)
			})
		})
	})
}

//TestErase verifies erased blocks read as zeros and lose their artifacts
func TestErase(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("erase", func(t *testing.T) {
		if geo.BlockCount() < 3 {
			t.Skipf("Three blocks required for test")
		}

		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			for block := uint32(0); block < 2; block++ {
				if err := dev.Prog(block, 0, geo.EraseSize, Pattern(int64(block), int(geo.EraseSize))); err != nil {
					t.Fatalf("Failed to program block %d: %s", block, err)
				}
			}
			ExpectAllocated(t, dev, 0, 1)

			t.Run("multiple-blocks", func(t *testing.T) {
				if err := dev.Erase(0, 0, 2*geo.EraseSize); err != nil {
					t.Fatalf("Failed to erase blocks 0 and 1: %s", err)
				}
				ExpectStats(t, dev, emubd.Stats{ProgCount: 2, EraseCount: 1})
				ExpectZeros(t, dev, 0, 0, 2*geo.EraseSize)
				ExpectAllocated(t, dev)
			})

			t.Run("already-erased", func(t *testing.T) {
				if err := dev.Erase(2, 0, geo.EraseSize); err != nil {
					t.Fatalf("Failed to erase never programmed block 2: %s", err)
				}
				if err := dev.Erase(0, 0, geo.EraseSize); err != nil {
					t.Fatalf("Failed to erase block 0 a second time: %s", err)
				}
				ExpectStats(t, dev, emubd.Stats{ReadCount: 1, ProgCount: 2, EraseCount: 3})
			})

			t.Run("reprogram", func(t *testing.T) {
				data := Pattern(6, int(geo.ProgSize))
				if err := dev.Prog(0, 0, geo.ProgSize, data); err != nil {
					t.Fatalf("Failed to reprogram block 0: %s", err)
				}
				expected := make([]byte, geo.EraseSize)
				copy(expected, data)
				ExpectBytes(t, dev, 0, 0, expected)
				ExpectAllocated(t, dev, 0)
			})
		})
	})
}

//TestAlignment verifies misaligned calls are rejected without side effects
func TestAlignment(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("alignment", func(t *testing.T) {
		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			orig := Pattern(7, int(geo.EraseSize))
			if err := dev.Prog(0, 0, geo.EraseSize, orig); err != nil {
				t.Fatalf("Failed to program block 0: %s", err)
			}
			before := dev.Stats()

			buf := make([]byte, geo.EraseSize+geo.ReadSize+geo.ProgSize)
			t.Run("read", func(t *testing.T) {
				if geo.ReadSize < 2 {
					t.Skipf("Read size of %d can not be misaligned", geo.ReadSize)
				}
				ExpectInvalid(t, dev.Read(0, 1, geo.ReadSize, buf), "read at a misaligned offset")
				ExpectInvalid(t, dev.Read(0, 0, geo.ReadSize+1, buf), "read of a misaligned size")
			})

			t.Run("prog", func(t *testing.T) {
				if geo.ProgSize < 2 {
					t.Skipf("Program size of %d can not be misaligned", geo.ProgSize)
				}
				ExpectInvalid(t, dev.Prog(0, 1, geo.ProgSize, buf), "program at a misaligned offset")
				ExpectInvalid(t, dev.Prog(0, 0, geo.ProgSize+1, buf), "program of a misaligned size")
			})

			t.Run("erase", func(t *testing.T) {
				ExpectInvalid(t, dev.Erase(0, geo.ProgSize, geo.EraseSize), "erase at a misaligned offset")
				ExpectInvalid(t, dev.Erase(0, 0, geo.EraseSize/2), "erase of a misaligned size")
			})

			if after := dev.Stats(); after != before {
				t.Fatalf("Rejected calls changed stats from %+v to %+v", before, after)
			}
			ExpectAllocated(t, dev, 0)
			ExpectBytes(t, dev, 0, 0, orig)
		})
	})
}

//TestBounds verifies no call may reach or pass the end of the device
func TestBounds(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("bounds", func(t *testing.T) {
		withDevice(t, factory, geo, func(t *testing.T, dev *emubd.Device) {
			lastBlock := uint32((geo.TotalSize - 1) / uint64(geo.EraseSize))
			lastOff := uint32((geo.TotalSize - 1) % uint64(geo.EraseSize))
			buf := make([]byte, 2*geo.EraseSize)

			t.Run("last-readable", func(t *testing.T) {
				off := lastOff / geo.ReadSize * geo.ReadSize
				if uint64(lastBlock)*uint64(geo.EraseSize)+uint64(off)+uint64(geo.ReadSize) >= geo.TotalSize {
					if off < geo.ReadSize {
						t.Skipf("Last block has no fully readable unit")
					}
					off -= geo.ReadSize
				}
				if err := dev.Read(lastBlock, off, geo.ReadSize, buf); err != nil {
					t.Fatalf("Failed to read final unit of device at block %d offset %d: %s", lastBlock, off, err)
				}
			})
			before := dev.Stats()

			t.Run("ending-at-total", func(t *testing.T) {
				if geo.TotalSize%uint64(geo.EraseSize) != 0 {
					t.Skipf("Device does not end on a block boundary")
				}
				ExpectInvalid(t, dev.Read(lastBlock, geo.EraseSize-geo.ReadSize, geo.ReadSize, buf), "read ending at the end of the device")
				ExpectInvalid(t, dev.Prog(lastBlock, geo.EraseSize-geo.ProgSize, geo.ProgSize, buf), "program ending at the end of the device")
				ExpectInvalid(t, dev.Erase(lastBlock, 0, geo.EraseSize), "erase of the final block")
			})

			t.Run("beyond-total", func(t *testing.T) {
				ExpectInvalid(t, dev.Read(lastBlock+1, 0, geo.ReadSize, buf), "read past the end of the device")
				ExpectInvalid(t, dev.Prog(lastBlock+1, 0, geo.ProgSize, buf), "program past the end of the device")
				ExpectInvalid(t, dev.Erase(lastBlock+1, 0, geo.EraseSize), "erase past the end of the device")
				ExpectInvalid(t, dev.Read(^uint32(0), 0, geo.ReadSize, buf), "read of the maximum block index")
			})

			t.Run("offset-beyond-block", func(t *testing.T) {
				//offset aligned to both granularities but outside block 0
				off := geo.EraseSize * geo.ReadSize * geo.ProgSize
				ExpectInvalid(t, dev.Read(0, off, geo.ReadSize, buf), "read at an offset outside block 0")
				ExpectInvalid(t, dev.Prog(0, off, geo.ProgSize, buf), "program at an offset outside block 0")
			})

			if after := dev.Stats(); after != before {
				t.Fatalf("Rejected calls changed stats from %+v to %+v", before, after)
			}
			ExpectAllocated(t, dev)
		})
	})
}

//TestPersistence verifies geometry and statistics survive closing and reopening
// the device and its store
func TestPersistence(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("persistence", func(t *testing.T) {
		open := factory(t)
		data := Pattern(8, int(geo.EraseSize))

		store := open(t)
		dev := CreateDevice(t, store, geo)
		if err := dev.Prog(0, 0, geo.EraseSize, data); err != nil {
			t.Fatalf("Failed to program block 0: %s", err)
		}
		ExpectBytes(t, dev, 0, 0, data)
		if err := dev.Erase(0, 0, geo.EraseSize); err != nil {
			t.Fatalf("Failed to erase block 0: %s", err)
		}
		if err := dev.Prog(0, 0, geo.EraseSize, data); err != nil {
			t.Fatalf("Failed to reprogram block 0: %s", err)
		}

		t.Run("sync", func(t *testing.T) {
			if err := dev.Sync(); err != nil {
				t.Fatalf("Failed to sync device: %s", err)
			}
		})
		synced := dev.Stats()
		CloseDevice(t, dev, store)

		t.Run("reopen", func(t *testing.T) {
			store := open(t)
			dev := CreateDevice(t, store, geo, emubd.OptRequireStats(true), emubd.OptStrictGeometry(true))
			if actual := dev.Info(); actual != geo {
				t.Fatalf("Expected geometry %+v after reopen, found %+v", geo, actual)
			}
			ExpectStats(t, dev, synced)
			ExpectBytes(t, dev, 0, 0, data)

			synced.ReadCount++
			ExpectStats(t, dev, synced)
			CloseDevice(t, dev, store)
		})

		t.Run("reopen-after-close", func(t *testing.T) {
			store := open(t)
			dev := CreateDevice(t, store, geo, emubd.OptRequireStats(true))
			ExpectStats(t, dev, synced)
			CloseDevice(t, dev, store)
		})

		t.Run("strict-mismatch", func(t *testing.T) {
			other := geo
			other.TotalSize += uint64(geo.EraseSize)

			store := open(t)
			defer store.Close()
			_, err := emubd.New(store, other, emubd.OptStrictGeometry(true))
			switch {
			case err == nil:
				t.Fatalf("Expected mismatched geometry to be rejected")
			case !errors.Is(err, emubd.ErrInvalidArgument):
				t.Fatalf("Expected mismatched geometry to be an invalid argument, got: %s", err)
			}
		})

		t.Run("lenient-mismatch", func(t *testing.T) {
			other := geo
			other.TotalSize += uint64(geo.EraseSize)

			store := open(t)
			dev := CreateDevice(t, store, other)
			if actual := dev.Info(); actual != other {
				t.Fatalf("Expected configured geometry %+v to win, found %+v", other, actual)
			}
			ExpectStats(t, dev, synced)
			CloseDevice(t, dev, store)
		})
	})
}

//TestHash verifies the device hashes to the image that was programmed, before and
// after reopening
func TestHash(t *testing.T, factory StoreFactory, geo emubd.Geometry) {
	t.Run("hash", func(t *testing.T) {
		open := factory(t)

		store := open(t)
		dev := CreateDevice(t, store, geo)
		size := int(emubd.NewLinearReader(dev).Size())
		image := make([]byte, size)

		//program every other block in full where the device allows it
		for block := uint32(0); uint64(block)*uint64(geo.EraseSize) < uint64(size); block += 2 {
			start := int(block * geo.EraseSize)
			count := lastAligned(geo.TotalSize-uint64(start), geo.ProgSize)
			if count > geo.EraseSize {
				count = geo.EraseSize
			}
			if count < 1 || start+int(count) > size {
				continue
			}

			data := Pattern(int64(block)+100, int(count))
			if err := dev.Prog(block, 0, count, data); err != nil {
				t.Fatalf("Failed to program block %d: %s", block, err)
			}
			copy(image[start:], data)
		}
		expected := sha256.Sum256(image)

		t.Run("live", func(t *testing.T) {
			if actual := DeviceHash(t, dev); !bytes.Equal(actual, expected[:]) {
				t.Fatalf("Device hash %x did not match programmed image hash %x", actual, expected)
			}
		})
		CloseDevice(t, dev, store)

		t.Run("reopened", func(t *testing.T) {
			store := open(t)
			dev := CreateDevice(t, store, geo)
			if actual := DeviceHash(t, dev); !bytes.Equal(actual, expected[:]) {
				t.Fatalf("Device hash %x did not match programmed image hash %x after reopen", actual, expected)
			}
			CloseDevice(t, dev, store)
		})
	})
}
