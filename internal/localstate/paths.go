package localstate

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envHome    = "CALSYNC_STATE_HOME"
	envXDG     = "XDG_STATE_HOME"
	appDir     = "calsync"
	dotDir     = ".calsync"
	dbFilename = "calsync.db"
)

// DataDir resolves and creates (0700) the local state directory:
// $CALSYNC_STATE_HOME, else $XDG_STATE_HOME/calsync, else ~/.calsync.
func DataDir() (string, error) {
	dir, err := resolveDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}

func resolveDir() (string, error) {
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	if v := os.Getenv(envXDG); v != "" && filepath.IsAbs(v) {
		return filepath.Join(v, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home: %w", err)
	}
	return filepath.Join(home, dotDir), nil
}

// DBPath returns the sqlite file inside DataDir.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFilename), nil
}
