package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadSecret читает секрет из файла в каталоге dir (обычно /run/secrets).
func ReadSecret(dir, name string) (string, error) {
	if dir == "" {
		dir = "/run/secrets"
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		// Без fallback на env var: секрет всегда из файла
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
