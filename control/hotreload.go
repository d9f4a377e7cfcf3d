// File: control/hotreload.go
// License: Apache-2.0
//
// Reloader re-reads the env file on demand or on SIGHUP and pushes the
// hot-reloadable settings into a ConfigStore.

package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Reloader applies env file changes to a ConfigStore.
type Reloader struct {
	envFile string
	store   *ConfigStore
	log     *zap.Logger
}

// NewReloader creates a reloader for envFile. log may be nil.
func NewReloader(envFile string, store *ConfigStore, log *zap.Logger) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reloader{envFile: envFile, store: store, log: log}
}

// Reload reads the env file and updates the store. Values in the file win
// over the process environment, which still holds the startup values.
func (r *Reloader) Reload() error {
	file := map[string]string{}
	if r.envFile != "" {
		m, err := godotenv.Read(r.envFile)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("reload %s: %w", r.envFile, err)
		}
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) (string, bool) {
		if v, ok := file[k]; ok {
			return v, true
		}
		return os.LookupEnv(k)
	}); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	r.store.SetConfig(cfg.Dynamic())
	r.log.Info("configuration reloaded", zap.String("env_file", r.envFile), zap.Any("values", cfg.Dynamic()))
	return nil
}

// Watch reloads on every SIGHUP until ctx is done.
func (r *Reloader) Watch(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := r.Reload(); err != nil {
				r.log.Error("configuration reload failed", zap.Error(err))
			}
		}
	}
}
