package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/hussain-mohammed/kirana-store/internal/docker"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
)

// Property names a checkable guarantee of a built image.
type Property string

const (
	PropertyCacheReuse       Property = "cache_reuse"
	PropertyScriptExecutable Property = "script_executable"
	PropertyPortBinding      Property = "port_binding"
	PropertySystemPackages   Property = "system_packages"
)

// AllProperties lists every property in execution order.
var AllProperties = []Property{PropertySystemPackages, PropertyCacheReuse, PropertyScriptExecutable, PropertyPortBinding}

// Status is the outcome of one property check.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result is the outcome of checking one property.
type Result struct {
	Property Property      `json:"property"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates property results for one recipe.
type Report struct {
	Recipe  string                `json:"recipe"`
	Mode    recipe.EntrypointMode `json:"mode"`
	ImageID string                `json:"image_id,omitempty"`
	Results []Result              `json:"results"`
}

// Passed reports whether no property failed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFail {
			return false
		}
	}
	return true
}

// Result returns the result for a property.
func (r Report) Result(p Property) (Result, bool) {
	for _, res := range r.Results {
		if res.Property == p {
			return res, true
		}
	}
	return Result{}, false
}

// Docker is the daemon surface the suite needs.
type Docker interface {
	BuildImage(ctx context.Context, req docker.BuildRequest, onOutput docker.BuildOutputCallback) (docker.BuildResult, error)
	RunContainer(ctx context.Context, name, image string, cmd []string, env []string, ports nat.PortMap) (docker.ContainerInfo, error)
	FileMode(ctx context.Context, image, path string) (os.FileMode, error)
	Logs(ctx context.Context, containerID string) (string, error)
	Running(ctx context.Context, containerID string) (bool, int, error)
	RemoveContainer(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, ref string) error
}

// Suite runs property checks against a Docker daemon.
type Suite struct {
	docker       Docker
	probe        Prober
	log          *slog.Logger
	probeTimeout time.Duration
	now          func() time.Time
	onOutput     docker.BuildOutputCallback
}

// Option customises a Suite.
type Option func(*Suite)

// WithProber overrides the port prober.
func WithProber(p Prober) Option {
	return func(s *Suite) { s.probe = p }
}

// WithProbeTimeout bounds how long the server gets to start listening.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Suite) { s.probeTimeout = d }
}

// WithBuildOutput forwards build log lines.
func WithBuildOutput(fn docker.BuildOutputCallback) Option {
	return func(s *Suite) { s.onOutput = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Suite) { s.now = now }
}

// NewSuite constructs a Suite.
func NewSuite(d Docker, log *slog.Logger, opts ...Option) *Suite {
	if log == nil {
		log = slog.Default()
	}
	s := &Suite{
		docker:       d,
		probe:        HTTPProber(nil),
		log:          log,
		probeTimeout: 60 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request selects what to verify.
type Request struct {
	// Dir is a build context already prepared with recipe.Ensure.
	Dir        string
	Recipe     recipe.Recipe
	Manifest   recipe.DependencyManifest
	Tag        string
	Properties []Property
	// KeepImage leaves the built image in the daemon.
	KeepImage bool
	// Output receives build log lines for this run only.
	Output docker.BuildOutputCallback
}

// Run builds the context and checks the requested properties.
func (s *Suite) Run(ctx context.Context, req Request) (Report, error) {
	if req.Output != nil {
		scoped := *s
		scoped.onOutput = req.Output
		s = &scoped
	}
	r := req.Recipe.WithDefaults()
	if req.Tag == "" {
		req.Tag = "imagectl-verify/" + r.Name + ":latest"
	}
	props := req.Properties
	if len(props) == 0 {
		props = AllProperties
	}
	report := Report{Recipe: r.Name, Mode: r.Entrypoint.Mode()}

	var image string
	ensureImage := func() (string, error) {
		if image != "" {
			return image, nil
		}
		result, err := s.docker.BuildImage(ctx, docker.BuildRequest{Dir: req.Dir, Tag: req.Tag}, s.onOutput)
		if err != nil {
			return "", err
		}
		image = req.Tag
		report.ImageID = result.ImageID
		return image, nil
	}
	defer func() {
		if image != "" && !req.KeepImage {
			if err := s.docker.RemoveImage(context.WithoutCancel(ctx), image); err != nil {
				s.log.Warn("failed to remove verification image", "image", image, "error", err)
			}
		}
	}()

	for _, prop := range props {
		start := s.now()
		var res Result
		switch prop {
		case PropertySystemPackages:
			res = s.SystemPackages(req.Dir, r, req.Manifest)
		case PropertyCacheReuse:
			res = s.CacheReuse(ctx, req.Dir, req.Tag)
			if res.Status == StatusPass {
				image = req.Tag
			}
		case PropertyScriptExecutable:
			res = s.withImage(ensureImage, prop, func(img string) Result {
				return s.ScriptExecutable(ctx, img, r)
			})
		case PropertyPortBinding:
			res = s.withImage(ensureImage, prop, func(img string) Result {
				return s.PortBinding(ctx, img, r)
			})
		default:
			return report, fmt.Errorf("unknown property %q", prop)
		}
		res.Duration = s.now().Sub(start)
		s.log.Info("property checked", "recipe", r.Name, "property", prop, "status", res.Status, "detail", res.Detail)
		report.Results = append(report.Results, res)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Suite) withImage(ensure func() (string, error), prop Property, check func(string) Result) Result {
	img, err := ensure()
	if err != nil {
		return fail(prop, "build failed: %v", err)
	}
	return check(img)
}

func pass(p Property, format string, args ...any) Result {
	return Result{Property: p, Status: StatusPass, Detail: fmt.Sprintf(format, args...)}
}

func fail(p Property, format string, args ...any) Result {
	return Result{Property: p, Status: StatusFail, Detail: fmt.Sprintf(format, args...)}
}

func skip(p Property, format string, args ...any) Result {
	return Result{Property: p, Status: StatusSkip, Detail: fmt.Sprintf(format, args...)}
}

func containerName(prefix string, now time.Time) string {
	return fmt.Sprintf("imagectl-%s-%d", strings.ReplaceAll(prefix, "_", "-"), now.UnixNano())
}
