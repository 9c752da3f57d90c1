package main

import (
	"fmt"
	"io"
	"os"

	"github.com/tarndt/emubd/cmd/emubd/conf"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var harnessName = fmt.Sprintf("emubd harness (%s)", os.Args[0])

//Simple usage: go build && ./emubd -dir=/tmp/flash info
func main() {
	cfg := conf.MustGetConfig()

	logger, err := newLogger(cfg.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Debug(harnessName+" started", zap.Stringer("config", cfg))
	if err = run(cfg, logger, os.Stdout); err != nil {
		logger.Error(harnessName+" failed", zap.String("command", cfg.Command), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

//newLogger builds a console logger writing to stderr so command output on stdout
// stays machine readable
func newLogger(level zapcore.Level) (*zap.Logger, error) {
	config := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:       "timestamp",
			MessageKey:    "message",
			LevelKey:      "level",
			EncodeLevel:   zapcore.LowercaseLevelEncoder,
			NameKey:       "logger",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339TimeEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("Could not build logger: %w", err)
	}
	return logger.Named("emubd"), nil
}

//run opens the configured device, executes the command against it and closes it
func run(cfg *conf.Config, logger *zap.Logger, out io.Writer) (err error) {
	dev, release, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := release(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	switch cfg.Command {
	case conf.CmdInfo:
		return cmdInfo(dev, out)
	case conf.CmdFormat:
		return cmdFormat(dev, logger, out)
	case conf.CmdDump:
		return cmdDump(dev, cfg.Args[0], out)
	case conf.CmdFill:
		return cmdFill(dev, cfg.Args[0], cfg.Args[1], out)
	case conf.CmdHash:
		return cmdHash(dev, out)
	}
	return fmt.Errorf("Bug: unknown command %q", cfg.Command)
}
