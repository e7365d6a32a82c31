package recipe

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// SystemDepsPolicy decides when native build packages are installed.
type SystemDepsPolicy string

const (
	SystemDepsAuto   SystemDepsPolicy = "auto"
	SystemDepsAlways SystemDepsPolicy = "always"
	SystemDepsNever  SystemDepsPolicy = "never"

	DefaultWorkdir = "/app"
)

// ErrNativeBuildUnsupported is returned when a manifest needs a compiled
// PostgreSQL driver but the recipe forbids system packages.
var ErrNativeBuildUnsupported = errors.New("recipe: native driver requires system packages")

func (p SystemDepsPolicy) String() string {
	if p == "" {
		return string(SystemDepsAuto)
	}
	return string(p)
}

// ParseSystemDepsPolicy validates a policy name.
func ParseSystemDepsPolicy(value string) (SystemDepsPolicy, error) {
	switch SystemDepsPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SystemDepsAuto:
		return SystemDepsAuto, nil
	case SystemDepsAlways:
		return SystemDepsAlways, nil
	case SystemDepsNever:
		return SystemDepsNever, nil
	default:
		return "", fmt.Errorf("unknown system deps policy %q", value)
	}
}

// Recipe is one container build recipe for the ASGI service.
type Recipe struct {
	Name        string
	Description string
	Base        BaseImage
	Workdir     string
	Manifest    string
	SystemDeps  SystemDepsPolicy
	// IndexURL points pip at a mirror; empty uses the public index.
	IndexURL   string
	Env        Environment
	Entrypoint Entrypoint
	// App is the server invocation a startup script launches.
	App        DirectServe
	ExposePort int
	// Debug emits platform debug echoes during the build.
	Debug     bool
	Preflight []string
}

// WithDefaults returns a copy with unset fields defaulted.
func (r Recipe) WithDefaults() Recipe {
	if strings.TrimSpace(r.Workdir) == "" {
		r.Workdir = DefaultWorkdir
	}
	if strings.TrimSpace(r.Manifest) == "" {
		r.Manifest = DefaultManifest
	}
	if r.SystemDeps == "" {
		r.SystemDeps = SystemDepsAuto
	}
	if r.Base.Distro == "" {
		r.Base.Distro = DistroDebian
	}
	if strings.TrimSpace(r.Base.PythonVersion) == "" {
		r.Base.PythonVersion = defaultPythonVersion
	}
	if r.Entrypoint == nil {
		r.Entrypoint = DirectServe{}
	}
	switch ep := r.Entrypoint.(type) {
	case DirectServe:
		r.Entrypoint = ep.WithDefaults()
		if r.App == (DirectServe{}) {
			r.App = ep.WithDefaults()
		}
	case ScriptedServe:
		r.Entrypoint = ep.WithDefaults()
	}
	r.App = r.App.WithDefaults()
	if r.ExposePort == 0 {
		r.ExposePort = DefaultPort
	}
	return r
}

// Validate checks the recipe is renderable.
func (r Recipe) Validate() error {
	r = r.WithDefaults()
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("recipe name cannot be empty")
	}
	if err := r.Base.Validate(); err != nil {
		return err
	}
	if !path.IsAbs(r.Workdir) {
		return fmt.Errorf("workdir %q must be absolute", r.Workdir)
	}
	if strings.Contains(r.Manifest, "/") || strings.ContainsAny(r.Manifest, " \t") {
		return fmt.Errorf("manifest %q must be a plain file name", r.Manifest)
	}
	if _, err := ParseSystemDepsPolicy(string(r.SystemDeps)); err != nil {
		return err
	}
	if r.IndexURL != "" {
		u, err := url.Parse(r.IndexURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid index url %q", r.IndexURL)
		}
	}
	if r.ExposePort < 1 || r.ExposePort > 65535 {
		return fmt.Errorf("expose port %d out of range", r.ExposePort)
	}
	if err := r.Entrypoint.Validate(); err != nil {
		return err
	}
	return r.App.Validate()
}

// InstallsSystemPackages resolves the policy against a manifest.
func (r Recipe) InstallsSystemPackages(m DependencyManifest) (bool, error) {
	switch r.SystemDeps {
	case SystemDepsAlways:
		return true, nil
	case SystemDepsNever:
		if m.NeedsNativeBuild() {
			names := make([]string, 0)
			for _, req := range m.NativeDrivers() {
				names = append(names, req.Name)
			}
			return false, fmt.Errorf("%w: %s on %s", ErrNativeBuildUnsupported, strings.Join(names, ", "), r.Base.Reference())
		}
		return false, nil
	default:
		return m.NeedsNativeBuild(), nil
	}
}
