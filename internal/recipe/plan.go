package recipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stage is one phase of the build pipeline. Stages run strictly in the order
// of StageOrder; each consumes the filesystem the previous one produced.
type Stage string

const (
	StageBase           Stage = "base_runtime"
	StageSystemDeps     Stage = "system_dependencies"
	StageDependencies   Stage = "python_dependencies"
	StageCode           Stage = "application_code"
	StageEntrypointPrep Stage = "entrypoint_preparation"
	StageEntry          Stage = "runtime_entry"
)

// StageOrder is the dependency order of the pipeline.
var StageOrder = []Stage{StageBase, StageSystemDeps, StageDependencies, StageCode, StageEntrypointPrep, StageEntry}

// Step is a single Dockerfile instruction tagged with its stage.
type Step struct {
	Stage       Stage  `json:"stage"`
	Instruction string `json:"instruction"`
	Args        string `json:"args"`
}

// String renders the step as a Dockerfile line.
func (s Step) String() string {
	return s.Instruction + " " + s.Args
}

// BuildPlan is the ordered instruction list for one recipe.
type BuildPlan struct {
	Recipe         Recipe
	Manifest       DependencyManifest
	SystemPackages *SystemPackageSet
	Steps          []Step
}

// Plan sequences the recipe's instructions. The manifest copy and install are
// always placed before the application tree copy so code-only edits reuse the
// dependency layer.
func Plan(r Recipe, m DependencyManifest) (BuildPlan, error) {
	r = r.WithDefaults()
	if err := r.Validate(); err != nil {
		return BuildPlan{}, err
	}
	install, err := r.InstallsSystemPackages(m)
	if err != nil {
		return BuildPlan{}, err
	}
	plan := BuildPlan{Recipe: r, Manifest: m}

	plan.add(StageBase, "FROM", r.Base.Reference())
	plan.add(StageBase, "WORKDIR", r.Workdir)
	if vars := r.Env.Vars(); len(vars) > 0 {
		pairs := make([]string, 0, len(vars))
		for _, v := range vars {
			pairs = append(pairs, v.Key+"="+v.Value)
		}
		plan.add(StageBase, "ENV", strings.Join(pairs, " \\\n    "))
	}
	if r.Debug {
		plan.add(StageBase, "RUN", fmt.Sprintf(`echo "=== build: %s (%s) ==="`, r.Name, r.Base.Reference()))
	}

	if install {
		set, err := SystemPackagesFor(r.Base.Distro)
		if err != nil {
			return BuildPlan{}, err
		}
		plan.SystemPackages = &set
		plan.add(StageSystemDeps, "RUN", set.InstallCommand())
	}

	plan.add(StageDependencies, "COPY", r.Manifest+" .")
	plan.add(StageDependencies, "RUN", pipInstall(r))

	plan.add(StageCode, "COPY", ". .")
	if r.Debug {
		plan.add(StageCode, "RUN", `echo "=== application tree ===" && ls -la`)
	}

	if scripted, ok := r.Entrypoint.(ScriptedServe); ok {
		plan.add(StageEntrypointPrep, "RUN", "chmod +x "+scripted.Script)
	}

	plan.add(StageEntry, "EXPOSE", strconv.Itoa(r.ExposePort))
	if r.Debug {
		plan.add(StageEntry, "RUN", fmt.Sprintf(`echo "=== entry: %s (%s) ==="`, strings.Join(r.Entrypoint.Command(), " "), r.Entrypoint.Mode()))
	}
	cmd, err := json.Marshal(r.Entrypoint.Command())
	if err != nil {
		return BuildPlan{}, fmt.Errorf("encode entry command: %w", err)
	}
	plan.add(StageEntry, "CMD", string(cmd))
	return plan, nil
}

func pipInstall(r Recipe) string {
	args := []string{"pip", "install"}
	if !r.Env.PipNoCache {
		args = append(args, "--no-cache-dir")
	}
	if r.IndexURL != "" {
		args = append(args, "--index-url", r.IndexURL)
	}
	args = append(args, "-r", r.Manifest)
	return strings.Join(args, " ")
}

func (p *BuildPlan) add(stage Stage, instruction, args string) {
	p.Steps = append(p.Steps, Step{Stage: stage, Instruction: instruction, Args: args})
}

// Stages lists the stages present in the plan, in order.
func (p BuildPlan) Stages() []Stage {
	var out []Stage
	seen := map[Stage]bool{}
	for _, step := range p.Steps {
		if !seen[step.Stage] {
			seen[step.Stage] = true
			out = append(out, step.Stage)
		}
	}
	return out
}

// StepsFor returns the steps of one stage.
func (p BuildPlan) StepsFor(stage Stage) []Step {
	var out []Step
	for _, step := range p.Steps {
		if step.Stage == stage {
			out = append(out, step)
		}
	}
	return out
}

// IndexOf returns the position of the first step of a stage, or -1.
func (p BuildPlan) IndexOf(stage Stage) int {
	for i, step := range p.Steps {
		if step.Stage == stage {
			return i
		}
	}
	return -1
}

// InstallStep returns the pip install step.
func (p BuildPlan) InstallStep() (Step, bool) {
	for _, step := range p.StepsFor(StageDependencies) {
		if step.Instruction == "RUN" {
			return step, true
		}
	}
	return Step{}, false
}
