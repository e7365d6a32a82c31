package lint

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

const (
	RuleLayerOrder              = "layer-order"
	RuleManifestMissing         = "manifest-missing"
	RuleManifestEditable        = "manifest-editable"
	RuleSystemPackagesForeign   = "system-packages-foreign"
	RuleSystemPackagesOrder     = "system-packages-order"
	RuleSystemPackagesMissing   = "system-packages-missing"
	RuleEntrypointNotExec       = "entrypoint-not-executable"
	RuleEntrypointHardcodedPort = "entrypoint-hardcoded-port"
	RuleEntrypointMissing       = "entrypoint-missing"
	RuleEntrypointMultiple      = "entrypoint-multiple"
	RuleExposeMismatch          = "expose-mismatch"
	RuleEnvFlagMissing          = "env-flag-missing"
)

// Finding is a single rule violation.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%d: %s [%s] %s", f.Line, f.Severity, f.Rule, f.Message)
	}
	return fmt.Sprintf("%s [%s] %s", f.Severity, f.Rule, f.Message)
}

// Report is the outcome of linting one Dockerfile.
type Report struct {
	Base     string                `json:"base,omitempty"`
	Distro   recipe.Distro         `json:"distro,omitempty"`
	Mode     recipe.EntrypointMode `json:"mode,omitempty"`
	Findings []Finding             `json:"findings"`
}

// HasErrors reports whether any finding is an error.
func (r Report) HasErrors() bool {
	return r.Count(SeverityError) > 0
}

// Count returns the number of findings with the given severity.
func (r Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// Rules returns the distinct rule IDs that fired.
func (r Report) Rules() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range r.Findings {
		if _, ok := seen[f.Rule]; ok {
			continue
		}
		seen[f.Rule] = struct{}{}
		out = append(out, f.Rule)
	}
	sort.Strings(out)
	return out
}

// Options tunes a lint run.
type Options struct {
	// Manifest enables the native-driver package check.
	Manifest *recipe.DependencyManifest
	// ManifestName defaults to requirements.txt.
	ManifestName string
	// DefaultPort is the port a scripted entry binds without PORT.
	DefaultPort int
}

// LintFile lints the Dockerfile at path.
func LintFile(path string, opts Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open dockerfile: %w", err)
	}
	defer f.Close()
	return Lint(f, opts)
}

// Lint parses and checks a Dockerfile.
func Lint(r io.Reader, opts Options) (Report, error) {
	df, err := Parse(r)
	if err != nil {
		return Report{}, err
	}
	return Check(df, opts), nil
}

// Check runs every rule against a parsed Dockerfile.
func Check(df Dockerfile, opts Options) Report {
	if opts.DefaultPort == 0 {
		opts.DefaultPort = recipe.DefaultPort
	}
	a := Analyze(df, opts.ManifestName)
	report := Report{Base: a.BaseRef}
	if a.Base != nil {
		report.Distro = a.Base.Distro
	}
	if a.Entry != nil {
		report.Mode = a.Entry.Mode
	}
	add := func(rule string, sev Severity, line int, format string, args ...any) {
		report.Findings = append(report.Findings, Finding{Rule: rule, Severity: sev, Line: line, Message: fmt.Sprintf(format, args...)})
	}
	stage := df.FinalStage()
	lineOf := func(idx int) int {
		if idx < 0 || idx >= len(stage) {
			return 0
		}
		return stage[idx].Line
	}

	checkLayering(a, lineOf, add)
	checkEditable(a, opts, lineOf, add)
	checkSystemPackages(a, opts, lineOf, add)
	checkEntry(a, opts, add)
	checkEnv(a, add)

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Line < report.Findings[j].Line
	})
	return report
}

type addFunc func(rule string, sev Severity, line int, format string, args ...any)

func checkLayering(a Analysis, lineOf func(int) int, add addFunc) {
	if a.PipInstall < 0 {
		return
	}
	if a.CodeCopy >= 0 && a.CodeCopy < a.PipInstall {
		add(RuleLayerOrder, SeverityWarning, lineOf(a.CodeCopy),
			"application code is copied before dependencies are installed; every code edit reinstalls packages")
	}
	if a.ManifestRefed && (a.ManifestCopy < 0 || a.ManifestCopy > a.PipInstall) && (a.CodeCopy < 0 || a.CodeCopy > a.PipInstall) {
		add(RuleManifestMissing, SeverityError, lineOf(a.PipInstall),
			"pip installs %s but the file is not copied into the image first", a.Manifest)
	}
}

func checkEditable(a Analysis, opts Options, lineOf func(int) int, add addFunc) {
	if opts.Manifest == nil || a.PipInstall < 0 {
		return
	}
	local := opts.Manifest.LocalEditables()
	if len(local) == 0 || (a.CodeCopy >= 0 && a.CodeCopy < a.PipInstall) {
		return
	}
	add(RuleManifestEditable, SeverityError, lineOf(a.PipInstall),
		"%s installs -e %s, which is not in the image until the code copy; drop the editable line or install it after COPY . .",
		a.Manifest, strings.Join(local, ", "))
}

func checkSystemPackages(a Analysis, opts Options, lineOf func(int) int, add addFunc) {
	if a.Base != nil {
		expected := recipe.ManagerFor(a.Base.Distro)
		for _, install := range a.SystemInstalls {
			if install.Manager != expected {
				add(RuleSystemPackagesForeign, SeverityError, install.Line,
					"%s is not available on %s; use %s", install.Manager, a.BaseRef, expected)
				continue
			}
			if foreign := recipe.ForeignPackages(a.Base.Distro, install.Packages); len(foreign) > 0 {
				add(RuleSystemPackagesForeign, SeverityError, install.Line,
					"packages %s do not exist on %s", strings.Join(foreign, ", "), a.Base.Distro)
			}
		}
	}
	if a.PipInstall >= 0 {
		for _, install := range a.SystemInstalls {
			if install.Index > a.PipInstall {
				add(RuleSystemPackagesOrder, SeverityError, install.Line,
					"system packages are installed after pip install at line %d", lineOf(a.PipInstall))
			}
		}
	}
	if opts.Manifest == nil || !opts.Manifest.NeedsNativeBuild() || a.Base == nil {
		return
	}
	set, err := recipe.SystemPackagesFor(a.Base.Distro)
	if err != nil {
		return
	}
	var before []string
	for _, install := range a.SystemInstalls {
		if a.PipInstall < 0 || install.Index < a.PipInstall {
			before = append(before, install.Packages...)
		}
	}
	if missing := set.Missing(before); len(missing) > 0 {
		drivers := make([]string, 0)
		for _, req := range opts.Manifest.NativeDrivers() {
			drivers = append(drivers, req.Name)
		}
		add(RuleSystemPackagesMissing, SeverityError, lineOf(a.PipInstall),
			"%s compiles against libpq; install %s before pip install", strings.Join(drivers, ", "), strings.Join(missing, " "))
	}
}

func checkEntry(a Analysis, opts Options, add addFunc) {
	if a.Entry == nil {
		add(RuleEntrypointMissing, SeverityError, 0, "no CMD or ENTRYPOINT; the image has no server process")
		return
	}
	if a.CmdCount > 1 || a.EntrypointCount > 1 {
		add(RuleEntrypointMultiple, SeverityWarning, a.Entry.Line,
			"%d CMD and %d ENTRYPOINT instructions; only the last of each takes effect", a.CmdCount, a.EntrypointCount)
	}
	port := opts.DefaultPort
	switch a.Entry.Mode {
	case recipe.ModeScriptedServe:
		if !a.ScriptChmodded() {
			add(RuleEntrypointNotExec, SeverityError, a.Entry.Line,
				"%s is never made executable; add RUN chmod +x %s", a.Entry.Script, a.Entry.Script)
		}
	case recipe.ModeDirectServe:
		if a.Entry.Port > 0 {
			port = a.Entry.Port
			if !a.Entry.PortFromEnv {
				add(RuleEntrypointHardcodedPort, SeverityWarning, a.Entry.Line,
					"--port %d is fixed at build time; a platform assigned PORT is ignored", a.Entry.Port)
			}
		}
	}
	if len(a.Exposed) == 0 {
		add(RuleExposeMismatch, SeverityInfo, a.Entry.Line, "no EXPOSE; the server listens on %d", port)
		return
	}
	if a.Entry.PortFromEnv {
		return
	}
	for _, exposed := range a.Exposed {
		if exposed == port {
			return
		}
	}
	ports := make([]string, 0, len(a.Exposed))
	for _, p := range a.Exposed {
		ports = append(ports, strconv.Itoa(p))
	}
	add(RuleExposeMismatch, SeverityInfo, a.Entry.Line,
		"EXPOSE %s does not include the server port %d", strings.Join(ports, " "), port)
}

func checkEnv(a Analysis, add addFunc) {
	var missing []string
	for _, key := range recipe.FlagKeys {
		if !a.HasEnv(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		add(RuleEnvFlagMissing, SeverityInfo, 0, "not declared: %s", strings.Join(missing, ", "))
	}
}
