package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// EnvFile is where a prompted API key is remembered.
const EnvFile = ".env"

// loadEnvFiles reads .env.local and .env from the working directory and the
// executable's directory. Variables already set in the environment win.
func loadEnvFiles() {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Dir(exe); dir != "" {
			dirs = append(dirs, dir)
		}
	}

	for _, dir := range dirs {
		for _, name := range []string{".env.local", EnvFile} {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			applyEnvFile(data)
		}
	}
}

func applyEnvFile(data []byte) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if ok && os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}

func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	i := strings.Index(line, "=")
	if i <= 0 {
		return "", "", false
	}

	key = strings.TrimSpace(line[:i])
	value = strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
	return key, value, key != ""
}

// SaveAPIKey appends the key to the env file at path so later runs pick it up.
func SaveAPIKey(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingAPIKey
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "opening env file")
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "YT_KEY=%s\n", key); err != nil {
		return errors.Wrap(err, "writing env file")
	}
	return nil
}
