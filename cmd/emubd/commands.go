package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/tarndt/emubd/pkg/emubd"
	"github.com/tarndt/emubd/pkg/util"
	"github.com/tarndt/emubd/pkg/util/strms"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

//usableBytes is how many bytes from the start of block an aligned access of
// granularity may cover without reaching the end of the device
func usableBytes(geo emubd.Geometry, block, granularity uint32) (uint32, error) {
	start := uint64(block) * uint64(geo.EraseSize)
	if start >= geo.TotalSize {
		return 0, fmt.Errorf("Block %d is beyond the end of the %d block device", block, geo.BlockCount())
	}

	remaining := geo.TotalSize - start
	if remaining > uint64(geo.EraseSize) {
		return geo.EraseSize, nil
	}
	usable := uint32((remaining - 1) / uint64(granularity) * uint64(granularity))
	if usable < 1 {
		return 0, fmt.Errorf("Block %d has no fully addressable %d byte unit", block, granularity)
	}
	return usable, nil
}

func parseBlock(arg string) (uint32, error) {
	block, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("Could not parse block index %q: %w", arg, err)
	}
	return uint32(block), nil
}

func cmdInfo(dev *emubd.Device, out io.Writer) error {
	allocated, err := dev.Allocated()
	if err != nil {
		return err
	}

	geo := dev.Info()
	fmt.Fprintf(out, "geometry:  %s\n", geo)
	fmt.Fprintf(out, "read:      %d bytes\nprogram:   %d bytes\nerase:     %d bytes\ntotal:     %d bytes\n",
		geo.ReadSize, geo.ProgSize, geo.EraseSize, geo.TotalSize)
	fmt.Fprintf(out, "stats:     %s\n", dev.Stats())
	fmt.Fprintf(out, "allocated: %d of %d blocks (%s)\n", allocated.Count(), geo.BlockCount(),
		humanize.IBytes(uint64(allocated.Count())*uint64(geo.EraseSize)))
	return nil
}

//cmdFormat erases every block, in a single call unless the device is huge. No access may reach the end of
// the device, so a final block ending exactly there can not be erased.
func cmdFormat(dev *emubd.Device, logger *zap.Logger, out io.Writer) error {
	geo := dev.Info()
	erasable := uint32((geo.TotalSize - 1) / uint64(geo.EraseSize))

	//a single call covers at most what a uint32 size can express
	perCall := uint32(math.MaxUint32 / geo.EraseSize)
	for block := uint32(0); block < erasable; block += perCall {
		count := erasable - block
		if count > perCall {
			count = perCall
		}
		if err := dev.Erase(block, 0, count*geo.EraseSize); err != nil {
			return err
		}
	}

	allocated, err := dev.Allocated()
	if err != nil {
		return err
	}
	if allocated.Test(uint(erasable)) {
		logger.Warn("final block could not be erased", zap.Uint32("block", erasable))
	}
	fmt.Fprintf(out, "erased %d blocks\n", erasable)
	return nil
}

func cmdDump(dev *emubd.Device, blockArg string, out io.Writer) error {
	block, err := parseBlock(blockArg)
	if err != nil {
		return err
	}
	size, err := usableBytes(dev.Info(), block, dev.Info().ReadSize)
	if err != nil {
		return err
	}

	buf := make([]byte, size)
	if err = dev.Read(block, 0, size, buf); err != nil {
		return err
	}
	dumper := hex.Dumper(out)
	if _, err = dumper.Write(buf); err != nil {
		return err
	}
	return dumper.Close()
}

func cmdFill(dev *emubd.Device, blockArg, valueArg string, out io.Writer) error {
	block, err := parseBlock(blockArg)
	if err != nil {
		return err
	}
	value, err := strconv.ParseUint(valueArg, 0, 8)
	if err != nil {
		return fmt.Errorf("Could not parse byte value %q: %w", valueArg, err)
	}
	size, err := usableBytes(dev.Info(), block, dev.Info().ProgSize)
	if err != nil {
		return err
	}

	buf := make([]byte, size)
	util.Fill(buf, byte(value))
	if err = dev.Prog(block, 0, size, buf); err != nil {
		return err
	}
	fmt.Fprintf(out, "programmed %d bytes of block %d with 0x%02x\n", size, block, value)
	return nil
}

func cmdHash(dev *emubd.Device, out io.Writer) error {
	lr := emubd.NewLinearReader(dev)
	hashWtr := sha256.New()
	if _, err := io.Copy(hashWtr, strms.NewReadAtReader(lr, lr.Size())); err != nil {
		return fmt.Errorf("Could not hash device: %w", err)
	}
	fmt.Fprintf(out, "%x  %d bytes\n", hashWtr.Sum(nil), lr.Size())
	return nil
}
