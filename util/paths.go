package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	AppConfigDir = ".config/murmur"
)

// GetConfigDir returns the murmur config directory path (~/.config/murmur/)
// and creates it if it doesn't exist
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// ResolveFilePath resolves a file path with the following priority:
// 1. Local working directory (e.g., ./murmur.db)
// 2. User config directory (e.g., ~/.config/murmur/murmur.db)
// 3. Returns the user config directory path if neither exists (for creation)
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(configDir, filename)
}

// ResolveDatabasePath applies ResolveFilePath to bare file names only.
// Paths with a directory component and sqlite URIs are used as given.
func ResolveDatabasePath(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" || strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	return ResolveFilePath(path)
}
