package conf

import (
	"flag"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

//Capacity is a count/size in bytes, its primary purpose is to allow the flags
// package to parse human IEC values like "4 KiB"
type Capacity int64

//String returns capacity in human readable IEC units, see: flag.Value interface
func (c *Capacity) String() string {
	return humanize.IBytes(uint64(*c))
}

//Set is used by the flag package, see: flag.Value interface
func (c *Capacity) Set(str string) error {
	val, err := parseCapacity(str)
	if err != nil {
		return err
	}

	*c = val.(Capacity)
	return nil
}

//Get is used by the flag package, see: flag.Getter interface
func (c *Capacity) Get() interface{} { return Capacity(*c) }

//Uint32 returns the capacity if it can be represented as a uint32
func (c Capacity) Uint32() (uint32, bool) {
	if c < 0 || c > math.MaxUint32 {
		return 0, false
	}
	return uint32(c), true
}

//parseCapacity is an env.ParserFunc for Capacity fields
func parseCapacity(str string) (interface{}, error) {
	val, err := humanize.ParseBytes(str)
	if err != nil {
		return nil, fmt.Errorf("Parseing %q failed: %w", str, err)
	} else if val > math.MaxInt64 {
		return nil, fmt.Errorf("Capacity %q is too large", str)
	}
	return Capacity(val), nil
}

//Analog to methods like flag.DurationVar for use in parsing capacity command-line args
func flagCapacityVar(fs *flag.FlagSet, p *Capacity, name string, value Capacity, usage string) {
	fs.Var(newCapacityValue(value, p), name, usage)
}

func newCapacityValue(val Capacity, p *Capacity) *Capacity {
	*p = val
	return p
}
