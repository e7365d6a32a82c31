package verify

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hussain-mohammed/kirana-store/internal/docker"
	"github.com/hussain-mohammed/kirana-store/internal/lint"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
)

// OverridePort is the PORT value injected when checking port binding.
const OverridePort = 9999

// CacheReuse builds twice around a code-only change; the dependency install
// must be served from the layer cache on the second build.
func (s *Suite) CacheReuse(ctx context.Context, dir, tag string) Result {
	if _, err := s.docker.BuildImage(ctx, docker.BuildRequest{Dir: dir, Tag: tag}, s.onOutput); err != nil {
		return fail(PropertyCacheReuse, "initial build failed: %v", err)
	}
	changed, err := workspace.MutateCode(dir, s.now())
	if err != nil {
		return fail(PropertyCacheReuse, "%v", err)
	}
	defer func() {
		if rmErr := os.Remove(changed); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("failed to remove code change file", "path", changed, "error", rmErr)
		}
	}()
	second, err := s.docker.BuildImage(ctx, docker.BuildRequest{Dir: dir, Tag: tag}, s.onOutput)
	if err != nil {
		return fail(PropertyCacheReuse, "rebuild failed: %v", err)
	}
	return evaluateCache(second)
}

func evaluateCache(result docker.BuildResult) Result {
	var install, code *docker.BuildStep
	for i := range result.Steps {
		step := &result.Steps[i]
		upper := strings.ToUpper(step.Instruction)
		if install == nil && strings.HasPrefix(upper, "RUN") && strings.Contains(step.Instruction, "pip install") {
			install = step
		}
		if code == nil && (strings.HasPrefix(upper, "COPY . ") || strings.HasPrefix(upper, "ADD . ")) {
			code = step
		}
	}
	if install == nil {
		return fail(PropertyCacheReuse, "no pip install step reported by the builder")
	}
	if code != nil && code.Cached {
		return fail(PropertyCacheReuse, "code copy was cached; the code change did not reach the build")
	}
	if !install.Cached {
		return fail(PropertyCacheReuse, "step %d (%s) re-ran after a code-only change", install.Number, install.Instruction)
	}
	return pass(PropertyCacheReuse, "step %d reused from cache; %d/%d steps cached", install.Number, result.CachedSteps(), len(result.Steps))
}

// ScriptExecutable checks the startup script in the image carries an
// executable bit.
func (s *Suite) ScriptExecutable(ctx context.Context, image string, r recipe.Recipe) Result {
	scripted, ok := r.Entrypoint.(recipe.ScriptedServe)
	if !ok {
		return skip(PropertyScriptExecutable, "direct serve has no startup script")
	}
	scriptPath := scripted.WithDefaults().Script
	if !path.IsAbs(scriptPath) {
		scriptPath = path.Join(r.Workdir, scriptPath)
	}
	mode, err := s.docker.FileMode(ctx, image, scriptPath)
	if err != nil {
		return fail(PropertyScriptExecutable, "%v", err)
	}
	if mode&0o111 == 0 {
		return fail(PropertyScriptExecutable, "%s has mode %s", scriptPath, mode.Perm())
	}
	return pass(PropertyScriptExecutable, "%s has mode %s", scriptPath, mode.Perm())
}

// PortBinding runs the image with PORT=9999 and without PORT and checks which
// port the server answers on. Direct serve is expected to ignore PORT.
func (s *Suite) PortBinding(ctx context.Context, image string, r recipe.Recipe) Result {
	overridden := strconv.Itoa(OverridePort)
	details := make([]string, 0, 2)
	for _, runtimePort := range []string{overridden, ""} {
		expected, err := recipe.BoundPort(r.Entrypoint, runtimePort, r.ExposePort)
		if err != nil {
			return fail(PropertyPortBinding, "%v", err)
		}
		detail, err := s.checkBinding(ctx, image, runtimePort, expected, []int{r.ExposePort, OverridePort})
		if err != nil {
			return fail(PropertyPortBinding, "%v", err)
		}
		details = append(details, detail)
	}
	if !r.Entrypoint.HonorsPortOverride() {
		details = append(details, "PORT override ignored by direct serve")
	}
	return pass(PropertyPortBinding, "%s", strings.Join(details, "; "))
}

func (s *Suite) checkBinding(ctx context.Context, image, runtimePort string, expected int, candidates []int) (string, error) {
	var env []string
	label := "PORT unset"
	if runtimePort != "" {
		env = append(env, "PORT="+runtimePort)
		label = "PORT=" + runtimePort
	}
	name := containerName("port", s.now())
	info, err := s.docker.RunContainer(ctx, name, image, nil, env, docker.PublishAll(uniquePorts(candidates)...))
	defer func() {
		if rmErr := s.docker.RemoveContainer(context.WithoutCancel(ctx), name); rmErr != nil {
			s.log.Warn("failed to remove probe container", "container", name, "error", rmErr)
		}
	}()
	if err != nil {
		return "", fmt.Errorf("%s: %w", label, err)
	}
	hostPort, ok := info.HostPort(expected)
	if !ok {
		return "", fmt.Errorf("%s: port %d not published", label, expected)
	}
	if err := s.probe.WaitReachable(ctx, "127.0.0.1:"+hostPort, s.probeTimeout); err != nil {
		logs, _ := s.docker.Logs(ctx, info.ID)
		if running, code, inspectErr := s.docker.Running(ctx, info.ID); inspectErr == nil && !running {
			return "", fmt.Errorf("%s: container exited with code %d before listening on %d%s", label, code, expected, logTail(logs))
		}
		return "", fmt.Errorf("%s: server not listening on %d: %v%s", label, expected, err, logTail(logs))
	}
	for _, other := range uniquePorts(candidates) {
		if other == expected {
			continue
		}
		otherHost, ok := info.HostPort(other)
		if !ok {
			continue
		}
		if err := s.probe.WaitReachable(ctx, "127.0.0.1:"+otherHost, time.Second); err == nil {
			return "", fmt.Errorf("%s: server also answers on %d, expected only %d", label, other, expected)
		}
	}
	return fmt.Sprintf("%s: listening on %d", label, expected), nil
}

// SystemPackages lints the context's Dockerfile for the distribution's native
// build packages.
func (s *Suite) SystemPackages(dir string, r recipe.Recipe, manifest recipe.DependencyManifest) Result {
	report, err := lint.LintFile(filepath.Join(dir, "Dockerfile"), lint.Options{Manifest: &manifest, ManifestName: r.Manifest, DefaultPort: r.ExposePort})
	if err != nil {
		return fail(PropertySystemPackages, "%v", err)
	}
	var problems []string
	for _, f := range report.Findings {
		if strings.HasPrefix(f.Rule, "system-packages-") && f.Severity == lint.SeverityError {
			problems = append(problems, f.Message)
		}
	}
	if len(problems) > 0 {
		return fail(PropertySystemPackages, "%s", strings.Join(problems, "; "))
	}
	if !manifest.NeedsNativeBuild() {
		return pass(PropertySystemPackages, "no native driver in %s", r.Manifest)
	}
	set, err := recipe.SystemPackagesFor(r.Base.Distro)
	if err != nil {
		return fail(PropertySystemPackages, "%v", err)
	}
	return pass(PropertySystemPackages, "%s installs %s", r.Base.Distro, strings.Join(set.Packages, " "))
}

func uniquePorts(ports []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range ports {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func logTail(logs string) string {
	logs = strings.TrimSpace(logs)
	if logs == "" {
		return ""
	}
	lines := strings.Split(logs, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return "\n" + strings.Join(lines, "\n")
}
