package secrets

import (
	"fmt"
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the given environment variables.
// For each KEY, a path in KEY_FILE takes precedence over KEY itself, so
// values can come from mounted secret files. Missing variables are omitted.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if path := os.Getenv(k + "_FILE"); path != "" {
				data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator configuration
				if err != nil {
					return nil, fmt.Errorf("read %s_FILE: %w", k, err)
				}
				if v := strings.TrimSpace(string(data)); v != "" {
					vals[k] = v
				}
				continue
			}
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
