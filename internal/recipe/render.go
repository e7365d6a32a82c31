package recipe

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	startTemplateOnce sync.Once
	startTemplate     *template.Template
	startTemplateErr  error
)

// RenderDockerfile renders a plan as Dockerfile text.
func RenderDockerfile(plan BuildPlan) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	fmt.Fprintf(&b, "# recipe: %s (%s)\n", plan.Recipe.Name, plan.Recipe.Entrypoint.Mode())
	var last Stage
	for i, step := range plan.Steps {
		if i > 0 && step.Stage != last {
			b.WriteString("\n")
		}
		last = step.Stage
		b.WriteString(step.String())
		b.WriteString("\n")
	}
	return b.String()
}

type startScriptData struct {
	Port        int
	Host        string
	Interpreter string
	Server      string
	Target      string
	Debug       bool
	Preflight   []string
}

// RenderStartScript renders the start.sh a SCRIPTED_SERVE recipe delegates to.
// The script binds ${PORT} when set and the declared port otherwise.
func RenderStartScript(r Recipe) (string, error) {
	r = r.WithDefaults()
	tmpl, err := loadStartTemplate()
	if err != nil {
		return "", err
	}
	app := r.App.WithDefaults()
	data := startScriptData{
		Port:        r.ExposePort,
		Host:        app.Host,
		Interpreter: app.Interpreter,
		Server:      app.Server,
		Target:      app.Target(),
		Debug:       r.Debug,
		Preflight:   r.Preflight,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render start script: %w", err)
	}
	return buf.String(), nil
}

func loadStartTemplate() (*template.Template, error) {
	startTemplateOnce.Do(func() {
		startTemplate, startTemplateErr = template.New("start.sh.tmpl").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/start.sh.tmpl")
	})
	return startTemplate, startTemplateErr
}
