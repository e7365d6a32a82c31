package launch

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/joho/godotenv"
)

// SetFunc writes an environment variable.
type SetFunc func(key, value string) error

// LoadDotEnv merges the variables of path into the environment. Variables
// already set win over the file and a missing file is not an error. The keys
// applied are returned sorted.
func LoadDotEnv(path string, lookup LookupFunc, set SetFunc) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var applied []string
	for key, value := range values {
		if _, exists := lookup(key); exists {
			continue
		}
		if err := set(key, value); err != nil {
			return applied, fmt.Errorf("set %s: %w", key, err)
		}
		applied = append(applied, key)
	}
	sort.Strings(applied)
	return applied, nil
}
