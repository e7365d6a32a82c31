package verify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/hussain-mohammed/kirana-store/internal/docker"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
)

type fakeDocker struct {
	mu         sync.Mutex
	builds     int
	steps      [][]docker.BuildStep
	buildErr   error
	mode       os.FileMode
	statPaths  []string
	runs       []fakeRun
	removed    []string
	removedImg []string
	// listen maps the PORT env value ("" when unset) to the container port
	// the fake server binds.
	listen map[string]int
	// codeChanged records whether each build saw the code change file.
	codeChanged []bool
	// exitCode, when set, reports every container as exited with it.
	exitCode *int
}

type fakeRun struct {
	name string
	env  []string
}

func (f *fakeDocker) BuildImage(_ context.Context, req docker.BuildRequest, onOutput docker.BuildOutputCallback) (docker.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return docker.BuildResult{}, f.buildErr
	}
	idx := f.builds
	f.builds++
	_, statErr := os.Stat(filepath.Join(req.Dir, workspace.ProbeFile))
	f.codeChanged = append(f.codeChanged, statErr == nil)
	var steps []docker.BuildStep
	if idx < len(f.steps) {
		steps = f.steps[idx]
	} else if len(f.steps) > 0 {
		steps = f.steps[len(f.steps)-1]
	}
	if onOutput != nil {
		onOutput("Successfully built deadbeef\n")
	}
	return docker.BuildResult{ImageID: "sha256:deadbeef", Tag: req.Tag, Steps: steps}, nil
}

func (f *fakeDocker) RunContainer(_ context.Context, name, _ string, _ []string, env []string, ports nat.PortMap) (docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, fakeRun{name: name, env: env})
	bindings := nat.PortMap{}
	for port := range ports {
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "4" + port.Port()}}
	}
	return docker.ContainerInfo{ID: name, PortBinding: bindings}, nil
}

func (f *fakeDocker) FileMode(_ context.Context, _, path string) (os.FileMode, error) {
	f.statPaths = append(f.statPaths, path)
	return f.mode, nil
}

func (f *fakeDocker) Logs(context.Context, string) (string, error) {
	return "INFO:     Uvicorn running\n", nil
}

func (f *fakeDocker) Running(context.Context, string) (bool, int, error) {
	if f.exitCode != nil {
		return false, *f.exitCode, nil
	}
	return true, 0, nil
}

func (f *fakeDocker) RemoveContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeDocker) RemoveImage(_ context.Context, ref string) error {
	f.removedImg = append(f.removedImg, ref)
	return nil
}

// lastPortEnv returns the PORT value of the most recent run.
func (f *fakeDocker) lastPortEnv() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return ""
	}
	for _, kv := range f.runs[len(f.runs)-1].env {
		if v, ok := strings.CutPrefix(kv, "PORT="); ok {
			return v
		}
	}
	return ""
}

// fakeProber answers for the host port mapped to the container port the fake
// server listens on.
type fakeProber struct {
	docker *fakeDocker
}

func (p fakeProber) WaitReachable(_ context.Context, addr string, _ time.Duration) error {
	listening := p.docker.listen[p.docker.lastPortEnv()]
	if strings.HasSuffix(addr, ":4"+strconv.Itoa(listening)) {
		return nil
	}
	return errors.New("connection refused")
}

func cachedSteps(installCached, codeCached bool) []docker.BuildStep {
	return []docker.BuildStep{
		{Number: 1, Total: 5, Instruction: "FROM python:3.11-slim", Cached: false},
		{Number: 2, Total: 5, Instruction: "WORKDIR /app", Cached: true},
		{Number: 3, Total: 5, Instruction: "COPY requirements.txt .", Cached: true},
		{Number: 4, Total: 5, Instruction: "RUN pip install --no-cache-dir -r requirements.txt", Cached: installCached},
		{Number: 5, Total: 5, Instruction: "COPY . .", Cached: codeCached},
	}
}

func prepareContext(t *testing.T, variant string) (string, recipe.Recipe, recipe.DependencyManifest) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("fastapi\nuvicorn[standard]\npsycopg2==2.9.9\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("app = None\n"), 0o644); err != nil {
		t.Fatalf("write main.py: %v", err)
	}
	r, err := recipe.LookupVariant(variant)
	if err != nil {
		t.Fatalf("LookupVariant error: %v", err)
	}
	if _, err := recipe.Ensure(dir, r); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	m, err := recipe.LoadManifest(filepath.Join(dir, "requirements.txt"))
	if err != nil {
		t.Fatalf("LoadManifest error: %v", err)
	}
	return dir, r.WithDefaults(), m
}

func newTestSuite(d *fakeDocker) *Suite {
	clock := time.Unix(1700000000, 0)
	return NewSuite(d, slog.Default(),
		WithProber(fakeProber{docker: d}),
		WithProbeTimeout(time.Second),
		WithClock(func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		}),
	)
}

func TestRunScriptedVariant(t *testing.T) {
	dir, r, m := prepareContext(t, "railway-script")
	d := &fakeDocker{
		steps:  [][]docker.BuildStep{cachedSteps(false, false), cachedSteps(true, false)},
		mode:   0o755,
		listen: map[string]int{"9999": 9999, "": 8000},
	}
	report, err := newTestSuite(d).Run(context.Background(), Request{Dir: dir, Recipe: r, Manifest: m})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("expected all properties to pass: %+v", report.Results)
	}
	if len(report.Results) != len(AllProperties) {
		t.Fatalf("expected %d results, got %d", len(AllProperties), len(report.Results))
	}
	if d.builds != 2 {
		t.Fatalf("cache check image must be reused, got %d builds", d.builds)
	}
	if len(d.statPaths) != 1 || d.statPaths[0] != "/app/start.sh" {
		t.Fatalf("unexpected stat paths %v", d.statPaths)
	}
	if len(d.removed) != len(d.runs) {
		t.Fatalf("every probe container must be removed: runs=%d removed=%d", len(d.runs), len(d.removed))
	}
	if len(d.removedImg) != 1 {
		t.Fatalf("expected verification image removal, got %v", d.removedImg)
	}
	sys, _ := report.Result(PropertySystemPackages)
	if !strings.Contains(sys.Detail, "gcc libpq-dev") {
		t.Fatalf("unexpected system packages detail %q", sys.Detail)
	}
}

func TestRunDirectVariant(t *testing.T) {
	dir, r, m := prepareContext(t, "slim-direct")
	d := &fakeDocker{
		steps:  [][]docker.BuildStep{cachedSteps(true, false)},
		listen: map[string]int{"9999": 8000, "": 8000},
	}
	report, err := newTestSuite(d).Run(context.Background(), Request{
		Dir: dir, Recipe: r, Manifest: m,
		Properties: []Property{PropertyScriptExecutable, PropertyPortBinding},
		KeepImage:  true,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	exec, _ := report.Result(PropertyScriptExecutable)
	if exec.Status != StatusSkip {
		t.Fatalf("direct serve has no script, got %+v", exec)
	}
	port, _ := report.Result(PropertyPortBinding)
	if port.Status != StatusPass || !strings.Contains(port.Detail, "ignored") {
		t.Fatalf("direct serve should stay on 8000 regardless of PORT: %+v", port)
	}
	if len(d.removedImg) != 0 {
		t.Fatalf("KeepImage must leave the image, removed %v", d.removedImg)
	}
}

func TestPortBindingDetectsIgnoredOverride(t *testing.T) {
	dir, r, m := prepareContext(t, "slim-script")
	d := &fakeDocker{
		steps:  [][]docker.BuildStep{cachedSteps(true, false)},
		listen: map[string]int{"9999": 8000, "": 8000},
	}
	report, err := newTestSuite(d).Run(context.Background(), Request{
		Dir: dir, Recipe: r, Manifest: m, Properties: []Property{PropertyPortBinding},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	res, _ := report.Result(PropertyPortBinding)
	if res.Status != StatusFail || !strings.Contains(res.Detail, "PORT=9999") {
		t.Fatalf("expected failure for ignored PORT, got %+v", res)
	}
	if !strings.Contains(res.Detail, "Uvicorn running") {
		t.Fatalf("failure should carry container logs: %q", res.Detail)
	}
}

func TestScriptExecutableFails(t *testing.T) {
	dir, r, m := prepareContext(t, "railway-script")
	d := &fakeDocker{steps: [][]docker.BuildStep{cachedSteps(true, false)}, mode: 0o644}
	report, err := newTestSuite(d).Run(context.Background(), Request{
		Dir: dir, Recipe: r, Manifest: m, Properties: []Property{PropertyScriptExecutable},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	res, _ := report.Result(PropertyScriptExecutable)
	if res.Status != StatusFail || !strings.Contains(res.Detail, "-rw-r--r--") {
		t.Fatalf("expected failure for mode 0644, got %+v", res)
	}
}

func TestEvaluateCache(t *testing.T) {
	cases := []struct {
		name  string
		steps []docker.BuildStep
		want  Status
	}{
		{"install cached", cachedSteps(true, false), StatusPass},
		{"install rebuilt", cachedSteps(false, false), StatusFail},
		{"code not changed", cachedSteps(true, true), StatusFail},
		{"no install step", cachedSteps(true, false)[:3], StatusFail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := evaluateCache(docker.BuildResult{Steps: tc.steps})
			if got.Status != tc.want {
				t.Fatalf("expected %s got %s (%s)", tc.want, got.Status, got.Detail)
			}
		})
	}
}

func TestCacheReuseMutatesCode(t *testing.T) {
	dir, _, _ := prepareContext(t, "slim-direct")
	d := &fakeDocker{steps: [][]docker.BuildStep{cachedSteps(false, false), cachedSteps(true, false)}}
	res := newTestSuite(d).CacheReuse(context.Background(), dir, "kirana:test")
	if res.Status != StatusPass {
		t.Fatalf("expected pass, got %+v", res)
	}
	if len(d.codeChanged) != 2 || d.codeChanged[0] || !d.codeChanged[1] {
		t.Fatalf("expected the code change only in the rebuild, got %v", d.codeChanged)
	}
	if _, err := os.Stat(filepath.Join(dir, workspace.ProbeFile)); !os.IsNotExist(err) {
		t.Fatalf("code change file left in %s: %v", dir, err)
	}
}

func TestBuildFailure(t *testing.T) {
	dir, r, m := prepareContext(t, "slim-script")
	d := &fakeDocker{buildErr: errors.New("daemon unavailable")}
	report, err := newTestSuite(d).Run(context.Background(), Request{Dir: dir, Recipe: r, Manifest: m})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if report.Passed() {
		t.Fatalf("expected failures when the build fails")
	}
	sys, _ := report.Result(PropertySystemPackages)
	if sys.Status != StatusPass {
		t.Fatalf("static checks do not need the daemon: %+v", sys)
	}
}

func TestUnknownProperty(t *testing.T) {
	dir, r, m := prepareContext(t, "slim-direct")
	_, err := newTestSuite(&fakeDocker{}).Run(context.Background(), Request{Dir: dir, Recipe: r, Manifest: m, Properties: []Property{"nope"}})
	if err == nil {
		t.Fatalf("expected error for unknown property")
	}
}

func TestPortBindingReportsExitedContainer(t *testing.T) {
	dir, r, m := prepareContext(t, "slim-script")
	code := 126
	d := &fakeDocker{
		steps:    [][]docker.BuildStep{cachedSteps(false, false)},
		mode:     0o755,
		listen:   map[string]int{},
		exitCode: &code,
	}
	report, err := newTestSuite(d).Run(context.Background(), Request{Dir: dir, Recipe: r, Manifest: m, Properties: []Property{PropertyPortBinding}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	res, _ := report.Result(PropertyPortBinding)
	if res.Status != StatusFail || !strings.Contains(res.Detail, "container exited with code 126") {
		t.Fatalf("unexpected result %+v", res)
	}
}
