package conf

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"

	"github.com/tarndt/emubd/pkg/filestore/stowfs"

	"github.com/caarlos0/env/v11"
)

//EnvPrefix is the prefix of every environment variable the configuration is read from
const EnvPrefix = "EMUBD_"

//Commands the harness understands
const (
	CmdInfo   = "info"
	CmdFormat = "format"
	CmdDump   = "dump"
	CmdFill   = "fill"
	CmdHash   = "hash"
)

//ErrHelp is returned by Parse when usage was requested
var ErrHelp = flag.ErrHelp

//MustGetConfig successful reads configuration from the environment and command-line
// arguments and creates a Config or it exits with feedback for the invoking user
func MustGetConfig() *Config {
	cfg, err := Parse(os.Args[1:], nil, os.Stderr)
	switch {
	case errors.Is(err, ErrHelp):
		os.Exit(0)
	case err != nil:
		log.Fatalf("Bad configuration: %s", err)
	}
	return cfg
}

//Parse builds a Config from args, using environ (or the process environment if
// nil) for defaults. Usage is written to output.
func Parse(args []string, environ map[string]string, output io.Writer) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(Capacity(0)): parseCapacity,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Could not parse environment: %w", err)
	}

	fs := flag.NewFlagSet("emubd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: emubd [optional: options see below...] <command> [command args...]\n"+
			"Commands:\n"+
			"\t%s\t\t\tshow geometry, stats and allocated block count\n"+
			"\t%s\t\t\terase every erasable block\n"+
			"\t%s <block>\t\thex dump one block\n"+
			"\t%s <block> <byte>\tprogram one block with a repeated byte value\n"+
			"\t%s\t\t\tSHA-256 of the readable device contents\n"+
			"Every option may also be provided by an environment variable, ex. -erase-size as %sERASE_SIZE.\n"+
			"\tExample:\n\t\t./emubd -dir=/tmp/flash -erase-size=4KiB -total-size=1MiB fill 3 255\n\n",
			CmdInfo, CmdFormat, CmdDump, CmdFill, CmdHash, EnvPrefix,
		)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.Directory, "dir", cfg.Directory, "Location of the device's artifacts (created if absent)")
	fs.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "Type of file store to keep artifacts in: 'os', 'pebble' or 'stow-local'")
	flagCapacityVar(fs, &cfg.ReadBytes, "read-size", cfg.ReadBytes, "Read granularity (ex. 16 B)")
	flagCapacityVar(fs, &cfg.ProgBytes, "prog-size", cfg.ProgBytes, "Program granularity (ex. 16 B)")
	flagCapacityVar(fs, &cfg.EraseBytes, "erase-size", cfg.EraseBytes, "Erase block size (ex. 4 KiB)")
	flagCapacityVar(fs, &cfg.TotalBytes, "total-size", cfg.TotalBytes, "Device capacity (ex. 1 MiB)")
	fs.BoolVar(&cfg.RequireStats, "require-stats", cfg.RequireStats, "Fail if the device has no persisted statistics")
	fs.BoolVar(&cfg.StrictGeometry, "strict-geometry", cfg.StrictGeometry, "Fail if persisted geometry differs from the configured geometry")
	fs.BoolVar(&cfg.Fsync, "fsync", cfg.Fsync, "Fsync every artifact written (os store) or every write (pebble store)")
	fs.StringVar(&cfg.Compress, "compress", cfg.Compress,
		fmt.Sprintf("Compression algorithm for stow-local objects: %q, %q or %q for no compression",
			stowfs.ModeS2Name, stowfs.ModeGzipName, stowfs.ModeIdentityName),
	)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum level to log: 'debug', 'info', 'warn' or 'error'")

	if err = fs.Parse(args); err != nil {
		return nil, err
	}
	if err = cfg.derive(fs.Args()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) derive(args []string) error {
	if cfg.Directory == "" {
		return errors.New("No directory was provided (use -dir=X)")
	}
	if cfg.BackingMode = NewBackingStore(cfg.StoreKind); cfg.BackingMode == StoreUnknown {
		return fmt.Errorf("Unknown file store type of: %q", cfg.StoreKind)
	}
	if cfg.CompressMode = stowfs.ModeFromName(cfg.Compress); cfg.CompressMode == stowfs.ModeUnknown {
		return fmt.Errorf("Unknown compression mode %q was provided", cfg.Compress)
	}
	if err := cfg.Level.Set(cfg.LogLevel); err != nil {
		return fmt.Errorf("Unknown log level %q was provided: %w", cfg.LogLevel, err)
	}

	var ok [3]bool
	cfg.Geometry.ReadSize, ok[0] = cfg.ReadBytes.Uint32()
	cfg.Geometry.ProgSize, ok[1] = cfg.ProgBytes.Uint32()
	cfg.Geometry.EraseSize, ok[2] = cfg.EraseBytes.Uint32()
	if !ok[0] || !ok[1] || !ok[2] {
		return errors.New("Read, program and erase sizes must each be below 4 GiB")
	}
	cfg.Geometry.TotalSize = uint64(cfg.TotalBytes)
	if err := cfg.Geometry.Validate(); err != nil {
		return fmt.Errorf("Bad geometry: %w", err)
	}
	if cfg.Geometry.EraseSize%cfg.Geometry.ReadSize != 0 || cfg.Geometry.EraseSize%cfg.Geometry.ProgSize != 0 {
		return fmt.Errorf("Erase size %d must be a multiple of the read (%d) and program (%d) sizes",
			cfg.Geometry.EraseSize, cfg.Geometry.ReadSize, cfg.Geometry.ProgSize)
	}

	if len(args) < 1 {
		return errors.New("No command was provided")
	}
	cfg.Command, cfg.Args = args[0], args[1:]

	expectedArgs := 0
	switch cfg.Command {
	case CmdInfo, CmdFormat, CmdHash:
	case CmdDump:
		expectedArgs = 1
	case CmdFill:
		expectedArgs = 2
	default:
		return fmt.Errorf("Unknown command %q", cfg.Command)
	}
	if len(cfg.Args) != expectedArgs {
		return fmt.Errorf("Command %q takes %d arguments but %d were provided", cfg.Command, expectedArgs, len(cfg.Args))
	}
	return nil
}
