package recipe

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDecodeFile(t *testing.T) {
	t.Run("extends variant", func(t *testing.T) {
		content := `
name: kirana-railway
extends: slim-script
base: python:3.12-alpine
env:
  unbuffered: true
preflight:
  - python migrate_db.py
`
		r, err := DecodeFile([]byte(content))
		if err != nil {
			t.Fatalf("DecodeFile error: %v", err)
		}
		if r.Name != "kirana-railway" {
			t.Fatalf("unexpected name %q", r.Name)
		}
		if r.Base.Distro != DistroAlpine || r.Base.PythonVersion != "3.12" {
			t.Fatalf("unexpected base %+v", r.Base)
		}
		if _, ok := r.Entrypoint.(ScriptedServe); !ok {
			t.Fatalf("expected inherited scripted entry, got %T", r.Entrypoint)
		}
		if !r.Env.Unbuffered || r.Env.PipNoCache {
			t.Fatalf("unexpected env %+v", r.Env)
		}
		if len(r.Preflight) != 1 {
			t.Fatalf("expected preflight, got %v", r.Preflight)
		}
	})

	t.Run("direct app override", func(t *testing.T) {
		content := `
name: custom
entrypoint:
  mode: DIRECT_SERVE
app:
  module: api.main
  port: 8080
expose_port: 8080
`
		r, err := DecodeFile([]byte(content))
		if err != nil {
			t.Fatalf("DecodeFile error: %v", err)
		}
		direct, ok := r.Entrypoint.(DirectServe)
		if !ok {
			t.Fatalf("expected direct entry, got %T", r.Entrypoint)
		}
		if direct.Target() != "api.main:app" || direct.Port != 8080 {
			t.Fatalf("unexpected direct entry %+v", direct)
		}
	})

	t.Run("schema rejects", func(t *testing.T) {
		cases := map[string]string{
			"unknown field":   "name: x\ncolour: blue\n",
			"bad policy":      "name: x\nsystem_deps: sometimes\n",
			"bad port":        "name: x\nexpose_port: 70000\n",
			"relative dir":    "name: x\nworkdir: app\n",
			"direct script":   "name: x\nentrypoint:\n  mode: DIRECT_SERVE\n  script: start.sh\n",
			"missing name":    "base: python:3.11-slim\n",
			"non python base": "name: x\nbase: node:20\n",
			"parent script":   "name: x\nentrypoint:\n  mode: SCRIPTED_SERVE\n  script: ../../escaped.sh\n",
			"nested parent":   "name: x\nentrypoint:\n  mode: SCRIPTED_SERVE\n  script: bin/../../escaped.sh\n",
			"absolute script": "name: x\nentrypoint:\n  mode: SCRIPTED_SERVE\n  script: /usr/local/bin/start.sh\n",
		}
		for name, content := range cases {
			if _, err := DecodeFile([]byte(content)); err == nil {
				t.Fatalf("%s: expected validation error", name)
			}
		}
	})
}

func TestEncodeFileRoundTrip(t *testing.T) {
	for _, variant := range Variants() {
		t.Run(variant.Name, func(t *testing.T) {
			data, err := EncodeFile(variant)
			if err != nil {
				t.Fatalf("EncodeFile error: %v", err)
			}
			if !strings.Contains(string(data), "mode: "+string(variant.Entrypoint.Mode())) {
				t.Fatalf("expected mode in encoded file:\n%s", data)
			}
			dir := t.TempDir()
			writeFile(t, dir, "recipe.yaml", string(data))
			decoded, err := LoadFile(filepath.Join(dir, "recipe.yaml"))
			if err != nil {
				t.Fatalf("LoadFile error: %v\n%s", err, data)
			}
			want := variant.WithDefaults()
			if decoded.Base != want.Base || decoded.Env != want.Env || decoded.Debug != want.Debug {
				t.Fatalf("round trip mismatch: %+v vs %+v", decoded, want)
			}
			if decoded.Entrypoint.Mode() != want.Entrypoint.Mode() {
				t.Fatalf("round trip changed entry mode")
			}
		})
	}
}
