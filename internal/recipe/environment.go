package recipe

// EnvVar is a single ENV declaration.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Environment enumerates the interpreter and installer toggles baked into an
// image. The flags are independent and only affect log visibility and image
// size, never correctness.
type Environment struct {
	Unbuffered        bool `json:"unbuffered"`
	NoBytecode        bool `json:"no_bytecode"`
	RandomHashSeed    bool `json:"random_hash_seed"`
	PipNoCache        bool `json:"pip_no_cache"`
	PipNoVersionCheck bool `json:"pip_no_version_check"`
}

const (
	EnvUnbuffered        = "PYTHONUNBUFFERED"
	EnvNoBytecode        = "PYTHONDONTWRITEBYTECODE"
	EnvHashSeed          = "PYTHONHASHSEED"
	EnvPipNoCache        = "PIP_NO_CACHE_DIR"
	EnvPipNoVersionCheck = "PIP_DISABLE_PIP_VERSION_CHECK"
)

// FlagKeys lists every variable an Environment can declare, in render order.
var FlagKeys = []string{EnvUnbuffered, EnvNoBytecode, EnvHashSeed, EnvPipNoCache, EnvPipNoVersionCheck}

// FullEnvironment turns on every flag.
func FullEnvironment() Environment {
	return Environment{
		Unbuffered:        true,
		NoBytecode:        true,
		RandomHashSeed:    true,
		PipNoCache:        true,
		PipNoVersionCheck: true,
	}
}

// Vars renders the enabled flags in a fixed order.
func (e Environment) Vars() []EnvVar {
	var out []EnvVar
	if e.Unbuffered {
		out = append(out, EnvVar{Key: EnvUnbuffered, Value: "1"})
	}
	if e.NoBytecode {
		out = append(out, EnvVar{Key: EnvNoBytecode, Value: "1"})
	}
	if e.RandomHashSeed {
		out = append(out, EnvVar{Key: EnvHashSeed, Value: "random"})
	}
	if e.PipNoCache {
		out = append(out, EnvVar{Key: EnvPipNoCache, Value: "1"})
	}
	if e.PipNoVersionCheck {
		out = append(out, EnvVar{Key: EnvPipNoVersionCheck, Value: "1"})
	}
	return out
}

// Empty reports whether no flag is enabled.
func (e Environment) Empty() bool {
	return len(e.Vars()) == 0
}
