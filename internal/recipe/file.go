package recipe

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

const recipeSchemaURL = "https://kirana-store.local/schema/recipe.schema.json"

//go:embed schema/recipe.schema.json
var recipeSchemaJSON []byte

var (
	recipeSchemaOnce sync.Once
	recipeSchema     *jsonschema.Schema
	recipeSchemaErr  error
)

// File is the on-disk YAML form of a recipe.
type File struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Extends     string          `json:"extends,omitempty" yaml:"extends,omitempty"`
	Base        string          `json:"base,omitempty" yaml:"base,omitempty"`
	Workdir     string          `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Manifest    string          `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	SystemDeps  string          `json:"system_deps,omitempty" yaml:"system_deps,omitempty"`
	IndexURL    string          `json:"index_url,omitempty" yaml:"index_url,omitempty"`
	Env         *fileEnv        `json:"env,omitempty" yaml:"env,omitempty"`
	Entrypoint  *fileEntrypoint `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	App         *fileApp        `json:"app,omitempty" yaml:"app,omitempty"`
	ExposePort  int             `json:"expose_port,omitempty" yaml:"expose_port,omitempty"`
	Debug       *bool           `json:"debug,omitempty" yaml:"debug,omitempty"`
	Preflight   []string        `json:"preflight,omitempty" yaml:"preflight,omitempty"`
}

type fileEnv struct {
	Unbuffered        *bool `json:"unbuffered,omitempty" yaml:"unbuffered,omitempty"`
	NoBytecode        *bool `json:"no_bytecode,omitempty" yaml:"no_bytecode,omitempty"`
	RandomHashSeed    *bool `json:"random_hash_seed,omitempty" yaml:"random_hash_seed,omitempty"`
	PipNoCache        *bool `json:"pip_no_cache,omitempty" yaml:"pip_no_cache,omitempty"`
	PipNoVersionCheck *bool `json:"pip_no_version_check,omitempty" yaml:"pip_no_version_check,omitempty"`
}

type fileEntrypoint struct {
	Mode   EntrypointMode `json:"mode" yaml:"mode"`
	Shell  string         `json:"shell,omitempty" yaml:"shell,omitempty"`
	Script string         `json:"script,omitempty" yaml:"script,omitempty"`
}

type fileApp struct {
	Interpreter string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Server      string `json:"server,omitempty" yaml:"server,omitempty"`
	Module      string `json:"module,omitempty" yaml:"module,omitempty"`
	App         string `json:"app,omitempty" yaml:"app,omitempty"`
	Host        string `json:"host,omitempty" yaml:"host,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// LoadFile reads a recipe YAML file.
func LoadFile(path string) (Recipe, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("read recipe: %w", err)
	}
	r, err := DecodeFile(content)
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// DecodeFile validates YAML content against the recipe schema and converts it.
// A file may extend a named variant and override individual fields.
func DecodeFile(content []byte) (Recipe, error) {
	sch, err := loadRecipeSchema()
	if err != nil {
		return Recipe{}, err
	}
	jsonData, err := yaml.YAMLToJSON(content)
	if err != nil {
		return Recipe{}, fmt.Errorf("convert yaml to json: %w", err)
	}
	var document any
	if err := json.Unmarshal(jsonData, &document); err != nil {
		return Recipe{}, fmt.Errorf("decode recipe: %w", err)
	}
	if err := sch.Validate(document); err != nil {
		return Recipe{}, fmt.Errorf("invalid recipe: %w", err)
	}
	var f File
	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&f); err != nil {
		return Recipe{}, fmt.Errorf("decode recipe: %w", err)
	}
	return f.Recipe()
}

// Recipe converts the file form, applying it on top of its parent variant.
func (f File) Recipe() (Recipe, error) {
	var r Recipe
	if f.Extends != "" {
		parent, err := LookupVariant(f.Extends)
		if err != nil {
			return Recipe{}, err
		}
		r = parent
		r.Description = ""
	}
	r.Name = f.Name
	if f.Description != "" {
		r.Description = f.Description
	}
	if f.Base != "" {
		base, err := ParseBaseImage(f.Base)
		if err != nil {
			return Recipe{}, err
		}
		r.Base = base
	}
	if f.Workdir != "" {
		r.Workdir = f.Workdir
	}
	if f.Manifest != "" {
		r.Manifest = f.Manifest
	}
	if f.SystemDeps != "" {
		policy, err := ParseSystemDepsPolicy(f.SystemDeps)
		if err != nil {
			return Recipe{}, err
		}
		r.SystemDeps = policy
	}
	if f.IndexURL != "" {
		r.IndexURL = f.IndexURL
	}
	if f.Env != nil {
		applyBool(&r.Env.Unbuffered, f.Env.Unbuffered)
		applyBool(&r.Env.NoBytecode, f.Env.NoBytecode)
		applyBool(&r.Env.RandomHashSeed, f.Env.RandomHashSeed)
		applyBool(&r.Env.PipNoCache, f.Env.PipNoCache)
		applyBool(&r.Env.PipNoVersionCheck, f.Env.PipNoVersionCheck)
	}
	if f.App != nil {
		r.App = DirectServe{
			Interpreter: f.App.Interpreter,
			Server:      f.App.Server,
			Module:      f.App.Module,
			App:         f.App.App,
			Host:        f.App.Host,
			Port:        f.App.Port,
		}
	}
	if f.Entrypoint != nil {
		switch f.Entrypoint.Mode {
		case ModeDirectServe:
			r.Entrypoint = r.App
		case ModeScriptedServe:
			r.Entrypoint = ScriptedServe{Shell: f.Entrypoint.Shell, Script: f.Entrypoint.Script}
		default:
			return Recipe{}, fmt.Errorf("unknown entrypoint mode %q", f.Entrypoint.Mode)
		}
	} else if _, direct := r.Entrypoint.(DirectServe); direct && f.App != nil {
		r.Entrypoint = r.App
	}
	if f.ExposePort != 0 {
		r.ExposePort = f.ExposePort
	}
	applyBool(&r.Debug, f.Debug)
	if len(f.Preflight) > 0 {
		r.Preflight = append([]string(nil), f.Preflight...)
	}
	r = r.WithDefaults()
	if err := r.Validate(); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// EncodeFile renders a recipe as a self-contained YAML document.
func EncodeFile(r Recipe) ([]byte, error) {
	r = r.WithDefaults()
	f := File{
		Name:        r.Name,
		Description: r.Description,
		Base:        r.Base.Reference(),
		Workdir:     r.Workdir,
		Manifest:    r.Manifest,
		SystemDeps:  r.SystemDeps.String(),
		IndexURL:    r.IndexURL,
		Env: &fileEnv{
			Unbuffered:        boolPtr(r.Env.Unbuffered),
			NoBytecode:        boolPtr(r.Env.NoBytecode),
			RandomHashSeed:    boolPtr(r.Env.RandomHashSeed),
			PipNoCache:        boolPtr(r.Env.PipNoCache),
			PipNoVersionCheck: boolPtr(r.Env.PipNoVersionCheck),
		},
		Entrypoint: &fileEntrypoint{Mode: r.Entrypoint.Mode()},
		App: &fileApp{
			Interpreter: r.App.Interpreter,
			Server:      r.App.Server,
			Module:      r.App.Module,
			App:         r.App.App,
			Host:        r.App.Host,
			Port:        r.App.Port,
		},
		ExposePort: r.ExposePort,
		Debug:      boolPtr(r.Debug),
		Preflight:  r.Preflight,
	}
	if scripted, ok := r.Entrypoint.(ScriptedServe); ok {
		f.Entrypoint.Shell = scripted.Shell
		f.Entrypoint.Script = scripted.Script
	}
	var buf bytes.Buffer
	encoder := yamlv3.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(f); err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}
	return buf.Bytes(), nil
}

func loadRecipeSchema() (*jsonschema.Schema, error) {
	recipeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(recipeSchemaURL, bytes.NewReader(recipeSchemaJSON)); err != nil {
			recipeSchemaErr = fmt.Errorf("load recipe schema: %w", err)
			return
		}
		recipeSchema, recipeSchemaErr = compiler.Compile(recipeSchemaURL)
	})
	return recipeSchema, recipeSchemaErr
}

func applyBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

func boolPtr(v bool) *bool {
	return &v
}
