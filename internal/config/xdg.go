package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetConfigDir returns the appropriate configuration directory for the
// current OS. It follows the XDG Base Directory specification on Linux/Unix
// and the usual Windows directories on Windows.
//
// Priority order:
// 1. Environment variable BOOTLAB_CONFIG_DIR (if set)
// 2. XDG_CONFIG_HOME/bootlab (Linux/Unix) or %APPDATA%/bootlab (Windows)
// 3. ~/.config/bootlab (Linux/Unix) or %USERPROFILE%/AppData/Roaming/bootlab (Windows)
func GetConfigDir() (string, error) {
	if dir := os.Getenv("BOOTLAB_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "bootlab"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "bootlab"), nil

	default:
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, "bootlab"), nil
		}
		return filepath.Join(home, ".config", "bootlab"), nil
	}
}

// DefaultConfigPath returns the path of the config file inside GetConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
