package launch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PortEnv is the variable hosting platforms use to assign the listen port.
const PortEnv = "PORT"

// ErrInvalidPort indicates a PORT value outside 1-65535 or not a number.
var ErrInvalidPort = errors.New("launch: invalid port")

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// ResolvePort returns PORT when set and non-empty, the fallback otherwise.
func ResolvePort(lookup LookupFunc, fallback int) (int, error) {
	if fallback < 1 || fallback > 65535 {
		return 0, fmt.Errorf("%w: fallback %d", ErrInvalidPort, fallback)
	}
	raw, ok := lookup(PortEnv)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidPort, PortEnv, raw)
	}
	return port, nil
}
