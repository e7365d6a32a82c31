package httpx

import (
	"net/http"
	"strings"

	"github.com/hussain-mohammed/kirana-store/internal/lint"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/service/bake"
)

type variantSummary struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Base        string                  `json:"base"`
	Distro      recipe.Distro           `json:"distro"`
	Mode        recipe.EntrypointMode   `json:"mode"`
	SystemDeps  recipe.SystemDepsPolicy `json:"system_deps"`
	Command     []string                `json:"command"`
	Env         []recipe.EnvVar         `json:"env"`
}

func summarize(r recipe.Recipe) variantSummary {
	r = r.WithDefaults()
	env := r.Env.Vars()
	if env == nil {
		env = []recipe.EnvVar{}
	}
	return variantSummary{
		Name:        r.Name,
		Description: r.Description,
		Base:        r.Base.Reference(),
		Distro:      r.Base.Distro,
		Mode:        r.Entrypoint.Mode(),
		SystemDeps:  r.SystemDeps,
		Command:     r.Entrypoint.Command(),
		Env:         env,
	}
}

func (r *Router) handleVariants(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	variants := recipe.Variants()
	out := make([]variantSummary, 0, len(variants))
	for _, v := range variants {
		out = append(out, summarize(v))
	}
	writeJSON(w, http.StatusOK, out)
}

type renderRequest struct {
	Variant      string `json:"variant,omitempty"`
	Recipe       string `json:"recipe,omitempty"`
	Requirements string `json:"requirements,omitempty"`
}

type renderResponse struct {
	Recipe         variantSummary `json:"recipe"`
	Dockerfile     string         `json:"dockerfile"`
	StartScript    string         `json:"start_script,omitempty"`
	Stages         []recipe.Stage `json:"stages"`
	Steps          []recipe.Step  `json:"steps"`
	SystemPackages []string       `json:"system_packages,omitempty"`
	NativeBuild    bool           `json:"native_build"`
}

func (r *Router) handleRender(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload renderRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := bake.ResolveRecipe(payload.Variant, payload.Recipe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	manifest, err := recipe.ParseManifest(strings.NewReader(payload.Requirements))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := recipe.Plan(rec, manifest)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp := renderResponse{
		Recipe:      summarize(plan.Recipe),
		Dockerfile:  recipe.RenderDockerfile(plan),
		Stages:      plan.Stages(),
		Steps:       plan.Steps,
		NativeBuild: manifest.NeedsNativeBuild(),
	}
	if plan.SystemPackages != nil {
		resp.SystemPackages = plan.SystemPackages.Packages
	}
	if recipe.RequiresExecutable(plan.Recipe.Entrypoint) {
		script, err := recipe.RenderStartScript(plan.Recipe)
		if err != nil {
			r.logger.Error("start script render failed", "recipe", plan.Recipe.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "start script render failed")
			return
		}
		resp.StartScript = script
	}
	writeJSON(w, http.StatusOK, resp)
}

type lintRequest struct {
	Dockerfile   string `json:"dockerfile"`
	Requirements string `json:"requirements,omitempty"`
	ManifestName string `json:"manifest_name,omitempty"`
	DefaultPort  int    `json:"default_port,omitempty"`
}

func (r *Router) handleLint(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload lintRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Dockerfile) == "" {
		writeError(w, http.StatusBadRequest, "dockerfile required")
		return
	}
	opts := lint.Options{ManifestName: payload.ManifestName, DefaultPort: payload.DefaultPort}
	if strings.TrimSpace(payload.Requirements) != "" {
		manifest, err := recipe.ParseManifest(strings.NewReader(payload.Requirements))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Manifest = &manifest
	}
	report, err := lint.Lint(strings.NewReader(payload.Dockerfile), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if report.Findings == nil {
		report.Findings = []lint.Finding{}
	}
	for _, f := range report.Findings {
		r.recordLintFinding(f.Rule, string(f.Severity))
	}
	writeJSON(w, http.StatusOK, report)
}
