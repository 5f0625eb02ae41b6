package utils

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// ParsePath expands a leading ~ and any environment variables in path and
// cleans the result.
func ParsePath(path string) (string, error) {
	expanded, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

func DeleteDirectoryIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(path)
}
