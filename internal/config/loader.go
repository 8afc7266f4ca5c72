// Package config loads optional .zippick configuration files.
package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
)

// Loader can be used for loading .zippick configuration as well as overridden with default settings.
type Loader struct {
	cfg *ini.File
}

// Load will traverse the directory hierarchy upwards to find the first ".zippick" file available and load its
// contents into the Loader.
//
// The name of the .zippick file is returned; an empty name without error means no file was found and defaults
// apply.
func (l *Loader) Load(ctx context.Context) (string, error) {
	var (
		path        = filepath.Join(".", ".zippick")
		fi          os.FileInfo
		err         error
		cur, parent string
	)

	if cur, err = os.Getwd(); err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if fi, err = os.Stat(path); err == nil {
			if !fi.IsDir() {
				break
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}

		// not here (or a directory of the same name); try the parent directory.
		parent = filepath.Dir(cur)
		if parent == cur || parent == "." || parent == "/" {
			return "", nil
		}

		path = filepath.Join(parent, ".zippick")
		cur = parent
	}

	l.cfg, err = ini.Load(path)
	if err != nil {
		l.cfg = ini.Empty()
		return path, err
	}

	return path, nil
}

// DefaultLoader is the default Loader instance for package-level methods.
var DefaultLoader = &Loader{cfg: ini.Empty()}

// Load calls Loader.Load on the DefaultLoader instance.
func Load(ctx context.Context) (string, error) {
	return DefaultLoader.Load(ctx)
}
