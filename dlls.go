package main

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"sigdetour/internal/image"
)

// loadDLLs loads every valid DLL below dir with load. Bad files are
// skipped with a warning. It returns how many were loaded.
func loadDLLs(dir string, load func(path string) error, logger log.Interface) int {
	logger.Info("Trying to load extra DLLs (if any)")

	loaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WithError(err).Warnf("cannot read %s", path)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if !strings.EqualFold(filepath.Ext(path), ".dll") {
			logger.Warnf("Invalid DLL extension: %q", path)
			return nil
		}

		f, err := image.OpenFile(path)
		if err != nil || !f.IsDLL() {
			logger.Warnf("Invalid DLL file: %q", path)
			return nil
		}

		if err := load(path); err != nil {
			logger.WithError(err).Warnf("Failed to map DLL: %q", path)
			return nil
		}

		logger.Infof("Loaded DLL: %q", path)
		loaded++
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("cannot walk DLL directory")
	}

	logger.Infof("Extra DLL loading done, loaded %d", loaded)
	return loaded
}

// vim: ai:ts=8:sw=8:noet:syntax=go
