package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDestinationPath resolves the destination path, validating directories
func ResolveDestinationPath(destPath string) (string, error) {
	if info, err := os.Stat(destPath); err == nil {
		if info.IsDir() {
			return destPath, nil
		}
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", destPath)
	} else if os.IsNotExist(err) {
		// Not there yet; created on first write as long as the parent exists
		dir := filepath.Dir(destPath)
		if info, dirErr := os.Stat(dir); dirErr == nil && info.IsDir() {
			return destPath, nil
		}
		return "", fmt.Errorf("parent directory does not exist: %s", dir)
	} else {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}
}

// SafeJoin joins a peer supplied relative name under base and rejects
// absolute names and names that escape base
func SafeJoin(base, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("absolute filename not allowed: %s", name)
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("filename escapes output directory: %s", name)
	}

	return filepath.Join(base, cleaned), nil
}

// FormatFileSize formats bytes into human readable format
func FormatFileSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
