package lint

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
)

// Analysis is the classified view of a Dockerfile's final stage.
type Analysis struct {
	BaseRef  string
	Base     *recipe.BaseImage
	EnvKeys  []string
	Exposed  []int
	Manifest string

	ManifestCopy   int
	CodeCopy       int
	PipInstall     int
	ManifestRefed  bool
	SystemInstalls []PackageInstall

	Entry           *EntryPoint
	CmdCount        int
	EntrypointCount int
	Chmods          []string
}

// PackageInstall is a RUN that installs OS packages.
type PackageInstall struct {
	Index    int
	Line     int
	Manager  recipe.PackageManager
	Packages []string
}

// EntryPoint is the effective process of the image.
type EntryPoint struct {
	Mode        recipe.EntrypointMode
	Argv        []string
	Script      string
	Port        int
	PortFromEnv bool
	Line        int
}

var (
	pipInstallPattern = regexp.MustCompile(`\bpip3?\s+install\b`)
	shellSplit        = regexp.MustCompile(`&&|\|\||;|\|`)
	octalExec         = regexp.MustCompile(`^[0-7]{3,4}$`)
)

// Analyze classifies the final stage of df. manifest is the dependency file
// name the pipeline installs from.
func Analyze(df Dockerfile, manifest string) Analysis {
	if manifest == "" {
		manifest = recipe.DefaultManifest
	}
	a := Analysis{Manifest: manifest, ManifestCopy: -1, CodeCopy: -1, PipInstall: -1}
	var cmd, entrypoint *Instruction
	for idx, inst := range df.FinalStage() {
		inst := inst
		switch inst.Command {
		case "FROM":
			if len(inst.Args) > 0 {
				a.BaseRef = inst.Args[0]
				if base, err := recipe.ParseBaseImage(inst.Args[0]); err == nil {
					a.Base = &base
				}
			}
		case "ENV":
			a.EnvKeys = append(a.EnvKeys, inst.EnvKeys()...)
		case "EXPOSE":
			for _, arg := range inst.Args {
				port, _, _ := strings.Cut(arg, "/")
				if n, err := strconv.Atoi(port); err == nil {
					a.Exposed = append(a.Exposed, n)
				}
			}
		case "COPY", "ADD":
			if _, fromStage := inst.Flag("from"); fromStage {
				continue
			}
			for _, src := range inst.Sources() {
				clean := path.Clean(src)
				if clean == "." && a.CodeCopy < 0 {
					a.CodeCopy = idx
				}
				if path.Base(clean) == manifest && a.ManifestCopy < 0 {
					a.ManifestCopy = idx
				}
			}
		case "RUN":
			a.classifyRun(idx, inst)
		case "CMD":
			cmd = &inst
			a.CmdCount++
		case "ENTRYPOINT":
			entrypoint = &inst
			a.EntrypointCount++
		}
	}
	a.Entry = resolveEntry(entrypoint, cmd)
	return a
}

func (a *Analysis) classifyRun(idx int, inst Instruction) {
	command := inst.Shell()
	for _, segment := range shellSplit.Split(command, -1) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		if manager, pkgs, ok := packageInstall(fields); ok {
			a.SystemInstalls = append(a.SystemInstalls, PackageInstall{Index: idx, Line: inst.Line, Manager: manager, Packages: pkgs})
			continue
		}
		if fields[0] == "chmod" {
			a.Chmods = append(a.Chmods, chmodTargets(fields[1:])...)
		}
	}
	if pipInstallPattern.MatchString(command) && a.PipInstall < 0 {
		a.PipInstall = idx
		for _, field := range strings.Fields(command) {
			if path.Base(field) == a.Manifest {
				a.ManifestRefed = true
			}
		}
	}
}

func packageInstall(fields []string) (recipe.PackageManager, []string, bool) {
	var manager recipe.PackageManager
	var rest []string
	switch {
	case len(fields) >= 2 && (fields[0] == "apt-get" || fields[0] == "apt"):
		for i, f := range fields[1:] {
			if f == "install" {
				manager = recipe.PackageManagerApt
				rest = fields[i+2:]
				break
			}
		}
	case len(fields) >= 2 && fields[0] == "apk":
		for i, f := range fields[1:] {
			if f == "add" {
				manager = recipe.PackageManagerApk
				rest = fields[i+2:]
				break
			}
		}
	}
	if manager == "" {
		return "", nil, false
	}
	var pkgs []string
	for _, f := range rest {
		if strings.HasPrefix(f, "-") || f == "\\" {
			continue
		}
		name, _, _ := strings.Cut(f, "=")
		pkgs = append(pkgs, name)
	}
	return manager, pkgs, true
}

func chmodTargets(args []string) []string {
	var mode string
	var targets []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && mode == "" {
			continue
		}
		if mode == "" {
			mode = arg
			continue
		}
		targets = append(targets, arg)
	}
	if !grantsExec(mode) {
		return nil
	}
	return targets
}

func grantsExec(mode string) bool {
	if strings.Contains(mode, "+") && strings.Contains(mode, "x") {
		return true
	}
	if octalExec.MatchString(mode) {
		owner := mode[len(mode)-3] - '0'
		return owner&1 == 1
	}
	return false
}

func resolveEntry(entrypoint, cmd *Instruction) *EntryPoint {
	var argv []string
	line := 0
	if entrypoint != nil {
		argv = append(argv, entryArgs(*entrypoint)...)
		line = entrypoint.Line
	}
	if cmd != nil {
		argv = append(argv, entryArgs(*cmd)...)
		if line == 0 {
			line = cmd.Line
		}
	}
	if len(argv) == 0 {
		return nil
	}
	ep := &EntryPoint{Mode: recipe.ModeDirectServe, Argv: argv, Line: line}
	for i, arg := range argv {
		if strings.HasSuffix(arg, ".sh") {
			ep.Mode = recipe.ModeScriptedServe
			ep.Script = arg
		}
		value := ""
		if arg == "--port" && i+1 < len(argv) {
			value = argv[i+1]
		} else if v, ok := strings.CutPrefix(arg, "--port="); ok {
			value = v
		}
		if value == "" {
			continue
		}
		if strings.Contains(value, "$") {
			ep.PortFromEnv = true
		} else if n, err := strconv.Atoi(strings.Trim(value, `"'`)); err == nil {
			ep.Port = n
		}
	}
	return ep
}

func entryArgs(inst Instruction) []string {
	if inst.JSON {
		return inst.Args
	}
	return strings.Fields(inst.Shell())
}

// Installed flattens every OS package installed in the stage.
func (a Analysis) Installed() []string {
	var out []string
	for _, install := range a.SystemInstalls {
		out = append(out, install.Packages...)
	}
	return out
}

// HasEnv reports whether key is declared.
func (a Analysis) HasEnv(key string) bool {
	for _, k := range a.EnvKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ScriptChmodded reports whether the entry script receives an executable bit.
func (a Analysis) ScriptChmodded() bool {
	if a.Entry == nil || a.Entry.Script == "" {
		return false
	}
	want := path.Clean(a.Entry.Script)
	for _, target := range a.Chmods {
		clean := path.Clean(target)
		if clean == want || path.Base(clean) == path.Base(want) {
			return true
		}
	}
	return false
}
