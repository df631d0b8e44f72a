package nativepy

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed bootstrap.py
var embeddedBootstrap []byte

// findOrExtractBootstrap extracts the embedded bootstrap script to a temp
// file. There is no filesystem copy to fall back to: the script always runs
// from the embedded copy.
func findOrExtractBootstrap() (string, error) {
	if len(embeddedBootstrap) == 0 {
		return "", fmt.Errorf("embedded bootstrap.py is empty")
	}
	dir, err := os.MkdirTemp("", "rlm-nativepy-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, "bootstrap.py")
	if err := os.WriteFile(path, embeddedBootstrap, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write bootstrap.py: %w", err)
	}
	return path, nil
}
