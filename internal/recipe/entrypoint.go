package recipe

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// EntrypointMode names the terminal state an image boots into.
type EntrypointMode string

const (
	ModeDirectServe   EntrypointMode = "DIRECT_SERVE"
	ModeScriptedServe EntrypointMode = "SCRIPTED_SERVE"

	DefaultPort       = 8000
	DefaultHost       = "0.0.0.0"
	DefaultStartShell = "sh"
	DefaultScript     = "start.sh"
)

// Entrypoint is the container's default process. Exactly one of DirectServe
// or ScriptedServe is chosen per image; the set of variants is closed.
type Entrypoint interface {
	Mode() EntrypointMode
	// Command is the exec-form argv of the CMD instruction.
	Command() []string
	// HonorsPortOverride reports whether a run-time PORT changes the bound port.
	HonorsPortOverride() bool
	Validate() error
	isEntrypoint()
}

// DirectServe invokes the ASGI server with literal host and port flags.
type DirectServe struct {
	Interpreter string `json:"interpreter,omitempty"`
	Server      string `json:"server,omitempty"`
	Module      string `json:"module,omitempty"`
	App         string `json:"app,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
}

// ScriptedServe hands host, port and pre-flight work to a startup script.
type ScriptedServe struct {
	Shell  string `json:"shell,omitempty"`
	Script string `json:"script,omitempty"`
}

func (DirectServe) isEntrypoint()   {}
func (ScriptedServe) isEntrypoint() {}

func (DirectServe) Mode() EntrypointMode   { return ModeDirectServe }
func (ScriptedServe) Mode() EntrypointMode { return ModeScriptedServe }

// HonorsPortOverride is always false: the literal --port wins over PORT.
func (DirectServe) HonorsPortOverride() bool { return false }

// HonorsPortOverride is true; rendered scripts read PORT before binding.
func (ScriptedServe) HonorsPortOverride() bool { return true }

// WithDefaults fills unset fields with the uvicorn main:app defaults.
func (d DirectServe) WithDefaults() DirectServe {
	if strings.TrimSpace(d.Interpreter) == "" {
		d.Interpreter = "python"
	}
	if strings.TrimSpace(d.Server) == "" {
		d.Server = "uvicorn"
	}
	if strings.TrimSpace(d.Module) == "" {
		d.Module = "main"
	}
	if strings.TrimSpace(d.App) == "" {
		d.App = "app"
	}
	if strings.TrimSpace(d.Host) == "" {
		d.Host = DefaultHost
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	return d
}

// Target is the module:app object reference.
func (d DirectServe) Target() string {
	d = d.WithDefaults()
	return d.Module + ":" + d.App
}

func (d DirectServe) Command() []string {
	d = d.WithDefaults()
	return []string{d.Interpreter, "-m", d.Server, d.Target(), "--host", d.Host, "--port", strconv.Itoa(d.Port)}
}

func (d DirectServe) Validate() error {
	d = d.WithDefaults()
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("direct serve port %d out of range", d.Port)
	}
	if strings.ContainsAny(d.Module+d.App, " :") {
		return fmt.Errorf("invalid application reference %q", d.Target())
	}
	return nil
}

// WithDefaults fills unset fields with sh start.sh.
func (s ScriptedServe) WithDefaults() ScriptedServe {
	if strings.TrimSpace(s.Shell) == "" {
		s.Shell = DefaultStartShell
	}
	if strings.TrimSpace(s.Script) == "" {
		s.Script = DefaultScript
	}
	return s
}

func (s ScriptedServe) Command() []string {
	s = s.WithDefaults()
	return []string{s.Shell, s.Script}
}

func (s ScriptedServe) Validate() error {
	s = s.WithDefaults()
	if strings.ContainsAny(s.Script, " \t") {
		return fmt.Errorf("script path %q must not contain whitespace", s.Script)
	}
	if path.IsAbs(s.Script) || strings.HasPrefix(s.Script, "\\") {
		return fmt.Errorf("script path %q must be relative to the build context", s.Script)
	}
	if clean := path.Clean(s.Script); clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return fmt.Errorf("script path %q escapes the build context", s.Script)
	}
	return nil
}

// RequiresExecutable reports whether the entrypoint needs an executable bit on
// a file in the image.
func RequiresExecutable(e Entrypoint) bool {
	_, ok := e.(ScriptedServe)
	return ok
}

// ErrInvalidPort reports a run-time PORT the server cannot bind.
var ErrInvalidPort = errors.New("recipe: invalid port")

// BoundPort predicts the port the server binds to for a given run-time PORT
// value (empty when unset). A scripted entry handed a PORT outside 1-65535
// fails to start, which is reported as ErrInvalidPort.
func BoundPort(e Entrypoint, runtimePort string, fallback int) (int, error) {
	switch ep := e.(type) {
	case DirectServe:
		return ep.WithDefaults().Port, nil
	case ScriptedServe:
		if runtimePort == "" {
			return fallback, nil
		}
		port, err := strconv.Atoi(runtimePort)
		if err != nil || port < 1 || port > 65535 {
			return 0, fmt.Errorf("%w: PORT=%q", ErrInvalidPort, runtimePort)
		}
		return port, nil
	default:
		return fallback, nil
	}
}
