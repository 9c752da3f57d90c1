package main

import (
	"fmt"
	"os"

	"github.com/tarndt/emubd/cmd/emubd/conf"
	"github.com/tarndt/emubd/pkg/emubd"
	"github.com/tarndt/emubd/pkg/filestore"
	"github.com/tarndt/emubd/pkg/filestore/pebblefs"
	"github.com/tarndt/emubd/pkg/filestore/stowfs"

	"github.com/graymeta/stow"
	"github.com/graymeta/stow/local"
	"go.uber.org/zap"
)

const (
	pebbleNamespace = "emubd"
	containerName   = "emubd"
)

//openDevice creates the configured device, the returned func closes the device
// and then whatever store it was built on
func openDevice(cfg *conf.Config, logger *zap.Logger) (*emubd.Device, func() error, error) {
	options := append(cfg.Options(), emubd.OptLogger{Logger: logger})

	if cfg.BackingMode == conf.StoreOS {
		dev, err := emubd.Open(cfg.Directory, cfg.Geometry, options...)
		if err != nil {
			return nil, nil, fmt.Errorf("Could not create directory backed device: %w", err)
		}
		return dev, dev.Close, nil
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	dev, err := emubd.New(store, cfg.Geometry, options...)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("Could not create %s backed device: %w", cfg.BackingMode, err)
	}

	release := func() error {
		err := dev.Close()
		if closeErr := closeStore(); closeErr != nil && err == nil {
			err = fmt.Errorf("Could not close %s: %w", store.Describe(), closeErr)
		}
		return err
	}
	return dev, release, nil
}

//openStore returns the configured store and a func closing it along with
// anything it depends on
func openStore(cfg *conf.Config) (filestore.Store, func() error, error) {
	switch cfg.BackingMode {
	case conf.StorePebble:
		store, err := pebblefs.New(cfg.Directory, pebbleNamespace, pebblefs.OptSyncWrites(cfg.Fsync))
		if err != nil {
			return nil, nil, fmt.Errorf("Could not create pebbleDB store: %w", err)
		}
		closeStore := func() error {
			if err := store.Flush(); err != nil {
				store.Close()
				return err
			}
			return store.Close()
		}
		return store, closeStore, nil

	case conf.StoreStowLocal:
		if err := os.MkdirAll(cfg.Directory, 0777); err != nil {
			return nil, nil, fmt.Errorf("Could not create directory %q: %w", cfg.Directory, err)
		}
		location, err := stowfs.Dial(stowfs.KindLocal, stow.ConfigMap{local.ConfigKeyPath: cfg.Directory})
		if err != nil {
			return nil, nil, fmt.Errorf("Could not create local object store: %w", err)
		}
		container, err := stowfs.OpenContainer(location, containerName)
		if err != nil {
			location.Close()
			return nil, nil, err
		}
		store, err := stowfs.New(container, stowfs.OptCompress(cfg.CompressMode))
		if err != nil {
			location.Close()
			return nil, nil, fmt.Errorf("Could not create object store: %w", err)
		}
		closeStore := func() error {
			store.Close()
			return location.Close()
		}
		return store, closeStore, nil
	}

	return nil, nil, fmt.Errorf("Bug: Could not create store: unknown backing store mode enum: %d", cfg.BackingMode)
}
