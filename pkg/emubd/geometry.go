package emubd

import (
	"fmt"
	"math/big"

	"github.com/dustin/go-humanize"
)

//Geometry describes the access granularity and capacity of a device
type Geometry struct {
	ReadSize  uint32 //Alignment unit of read offsets and sizes
	ProgSize  uint32 //Alignment unit of program offsets and sizes
	EraseSize uint32 //Size of one logical block and the alignment unit of erases
	TotalSize uint64 //Addressable capacity in bytes
}

//Validate confirms every dimension is positive. EraseSize being a multiple of
// both granularities is assumed but not checked.
func (geo Geometry) Validate() error {
	switch {
	case geo.ReadSize < 1:
		return invalidArg("Read size must be positive")
	case geo.ProgSize < 1:
		return invalidArg("Program size must be positive")
	case geo.EraseSize < 1:
		return invalidArg("Erase size must be positive")
	case geo.TotalSize < 1:
		return invalidArg("Total size must be positive")
	}
	return nil
}

//BlockCount is the number of whole logical blocks the device holds
func (geo Geometry) BlockCount() uint32 {
	if geo.EraseSize < 1 {
		return 0
	}
	return uint32(geo.TotalSize / uint64(geo.EraseSize))
}

//String generates human-readable prose describing a geometry
func (geo Geometry) String() string {
	return fmt.Sprintf("%s device of %d %s blocks (read %s, program %s)",
		humanize.IBytes(geo.TotalSize), geo.BlockCount(), humanize.IBytes(uint64(geo.EraseSize)),
		humanize.IBytes(uint64(geo.ReadSize)), humanize.IBytes(uint64(geo.ProgSize)),
	)
}

//Stats counts completed operations, not bytes
type Stats struct {
	ReadCount  uint64
	ProgCount  uint64
	EraseCount uint64
}

//String generates human-readable prose describing usage statistics
func (stats Stats) String() string {
	return fmt.Sprintf("%s reads, %s programs, %s erases",
		commaUint(stats.ReadCount), commaUint(stats.ProgCount), commaUint(stats.EraseCount),
	)
}

//commaUint formats the full uint64 range, humanize.Comma only takes an int64
func commaUint(count uint64) string {
	return humanize.BigComma(new(big.Int).SetUint64(count))
}
