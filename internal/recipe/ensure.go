package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Preparation summarises what Ensure wrote into a build context.
type Preparation struct {
	Recipe              string         `json:"recipe"`
	Mode                EntrypointMode `json:"mode"`
	DockerfileGenerated bool           `json:"dockerfile_generated"`
	ScriptGenerated     bool           `json:"script_generated"`
	SystemPackages      []string       `json:"system_packages,omitempty"`
	ManifestFingerprint string         `json:"manifest_fingerprint,omitempty"`
}

// Ensure renders the recipe into workdir unless the context already carries a
// Dockerfile, in which case the repository's own recipe is honoured.
func Ensure(workdir string, r Recipe) (Preparation, error) {
	r = r.WithDefaults()
	prep := Preparation{Recipe: r.Name, Mode: r.Entrypoint.Mode()}
	exists, err := HasDockerfile(workdir)
	if err != nil {
		return prep, err
	}
	if exists {
		return prep, nil
	}
	manifestPath := filepath.Join(workdir, r.Manifest)
	if !fileExists(manifestPath) {
		return prep, fmt.Errorf("dependency manifest %s not found in build context", r.Manifest)
	}
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return prep, err
	}
	prep.ManifestFingerprint = manifest.Fingerprint()
	plan, err := Plan(r, manifest)
	if err != nil {
		return prep, err
	}
	if plan.SystemPackages != nil {
		prep.SystemPackages = plan.SystemPackages.Packages
	}
	if scripted, ok := r.Entrypoint.(ScriptedServe); ok {
		scriptPath := filepath.Join(workdir, scripted.Script)
		if !fileExists(scriptPath) {
			if err := writeStartScript(scriptPath, r); err != nil {
				return prep, err
			}
			prep.ScriptGenerated = true
		}
	}
	dockerfilePath := filepath.Join(workdir, "Dockerfile")
	if err := os.WriteFile(dockerfilePath, []byte(RenderDockerfile(plan)), 0o644); err != nil {
		return prep, fmt.Errorf("write dockerfile: %w", err)
	}
	prep.DockerfileGenerated = true
	return prep, nil
}

// WriteArtifacts writes the Dockerfile and, for scripted recipes, start.sh
// into dir, overwriting existing files.
func WriteArtifacts(dir string, plan BuildPlan) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	written := []string{}
	dockerfilePath := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(dockerfilePath, []byte(RenderDockerfile(plan)), 0o644); err != nil {
		return written, fmt.Errorf("write dockerfile: %w", err)
	}
	written = append(written, dockerfilePath)
	if scripted, ok := plan.Recipe.Entrypoint.(ScriptedServe); ok {
		scriptPath := filepath.Join(dir, scripted.Script)
		if err := writeStartScript(scriptPath, plan.Recipe); err != nil {
			return written, err
		}
		written = append(written, scriptPath)
	}
	return written, nil
}

func writeStartScript(path string, r Recipe) error {
	script, err := RenderStartScript(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create start script dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return fmt.Errorf("write start script: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("chmod start script: %w", err)
	}
	return nil
}

// HasDockerfile reports whether dir holds a Dockerfile at its root.
func HasDockerfile(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read workspace: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == "dockerfile" {
			return true, nil
		}
	}
	return false, nil
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
