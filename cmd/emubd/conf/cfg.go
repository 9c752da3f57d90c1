package conf

import (
	"fmt"

	"github.com/tarndt/emubd/pkg/emubd"
	"github.com/tarndt/emubd/pkg/filestore/stowfs"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap/zapcore"
)

//Config is a representation of environment and command line config parameters.
// Environment variables (prefixed EMUBD_) provide the defaults flags override.
type Config struct {
	Directory      string   `env:"DIR"             envDefault:"./emubd"`
	StoreKind      string   `env:"STORE"           envDefault:"os"`
	ReadBytes      Capacity `env:"READ_SIZE"       envDefault:"16 B"`
	ProgBytes      Capacity `env:"PROG_SIZE"       envDefault:"16 B"`
	EraseBytes     Capacity `env:"ERASE_SIZE"      envDefault:"4 KiB"`
	TotalBytes     Capacity `env:"TOTAL_SIZE"      envDefault:"1 MiB"`
	RequireStats   bool     `env:"REQUIRE_STATS"`
	StrictGeometry bool     `env:"STRICT_GEOMETRY"`
	Fsync          bool     `env:"FSYNC"`
	Compress       string   `env:"COMPRESS"        envDefault:"identity"`
	LogLevel       string   `env:"LOG_LEVEL"       envDefault:"info"`

	//Derived from the above during parsing
	BackingMode  BackingStore
	CompressMode stowfs.Mode
	Level        zapcore.Level
	Geometry     emubd.Geometry
	Command      string
	Args         []string
}

//String generates human-readable prose describing a configuration
func (cfg *Config) String() string {
	driverParams := ""
	switch cfg.BackingMode {
	case StoreOS:
		if cfg.Fsync {
			driverParams = " with fsync"
		}
	case StoreStowLocal:
		driverParams = fmt.Sprintf(" with %s compression", cfg.CompressMode)
	}

	return fmt.Sprintf("Emulating %s device (%s erase blocks) at %q using %s store%s.",
		humanize.IBytes(uint64(cfg.TotalBytes)), humanize.IBytes(uint64(cfg.EraseBytes)),
		cfg.Directory, cfg.BackingMode, driverParams,
	)
}

//Options returns the device options the configuration calls for
func (cfg *Config) Options() []emubd.Option {
	return []emubd.Option{
		emubd.OptRequireStats(cfg.RequireStats),
		emubd.OptStrictGeometry(cfg.StrictGeometry),
		emubd.OptFsync(cfg.Fsync),
	}
}
