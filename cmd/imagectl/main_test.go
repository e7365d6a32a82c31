package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
	"github.com/hussain-mohammed/kirana-store/pkg/jwt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVariantsCommand(t *testing.T) {
	out, err := run(t, "variants")
	if err != nil {
		t.Fatalf("variants error: %v", err)
	}
	for _, name := range recipe.VariantNames() {
		if !strings.Contains(out, name) {
			t.Fatalf("missing %s in output:\n%s", name, out)
		}
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	reqs := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(reqs, []byte("fastapi\nuvicorn\npsycopg2==2.9.9\n"), 0o644); err != nil {
		t.Fatalf("write requirements: %v", err)
	}

	out, err := run(t, "render", "--variant", "alpine-direct", "-r", reqs)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if !strings.Contains(out, "FROM python:3.11-alpine") || !strings.Contains(out, "apk add --no-cache gcc musl-dev postgresql-dev") {
		t.Fatalf("unexpected dockerfile:\n%s", out)
	}

	out, err = run(t, "render", "--variant", "slim-direct", "--plan")
	if err != nil {
		t.Fatalf("render --plan error: %v", err)
	}
	if strings.Contains(out, string(recipe.StageSystemDeps)) {
		t.Fatalf("no native driver, no system dependency stage:\n%s", out)
	}

	outDir := filepath.Join(dir, "ctx")
	if _, err := run(t, "render", "--variant", "railway-script", "-r", reqs, "-o", outDir); err != nil {
		t.Fatalf("render -o error: %v", err)
	}
	info, err := os.Stat(filepath.Join(outDir, "start.sh"))
	if err != nil {
		t.Fatalf("stat start.sh: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("start.sh not executable: %v", info.Mode())
	}
}

func TestInitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagectl.yaml")
	if _, err := run(t, "init", "--variant", "slim-env", "--name", "kirana-api", "-o", path); err != nil {
		t.Fatalf("init error: %v", err)
	}
	if _, err := run(t, "init", "-o", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	out, err := run(t, "render", "-f", path)
	if err != nil {
		t.Fatalf("render from file error: %v", err)
	}
	if !strings.Contains(out, "PYTHONUNBUFFERED=1") {
		t.Fatalf("env flags lost in round trip:\n%s", out)
	}
}

func TestLintCommand(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "Dockerfile")
	content := "FROM python:3.11-slim\nCOPY . .\nRUN pip install -r requirements.txt\nCMD [\"./start.sh\"]\n"
	if err := os.WriteFile(bad, []byte(content), 0o644); err != nil {
		t.Fatalf("write dockerfile: %v", err)
	}
	out, err := run(t, "lint", bad)
	if !errors.Is(err, errChecksFailed) {
		t.Fatalf("expected errChecksFailed, got %v", err)
	}
	if !strings.Contains(out, "layer-order") || !strings.Contains(out, "entrypoint-not-executable") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	good := filepath.Join(dir, "good")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := run(t, "render", "--variant", "slim-script", "-o", good); err != nil {
		t.Fatalf("render error: %v", err)
	}
	if _, err := run(t, "lint", filepath.Join(good, "Dockerfile")); err != nil {
		t.Fatalf("rendered recipe should lint clean: %v", err)
	}
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"cache_reuse", "port_binding"})
	if err != nil || len(props) != 2 {
		t.Fatalf("unexpected %v %v", props, err)
	}
	if _, err := parseProperties([]string{"speed"}); err == nil {
		t.Fatalf("expected unknown property error")
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("IMAGECTL_JWT_SECRET", "secret")
	out, err := run(t, "token", "--subject", "ci", "--scope", "read")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := jwt.Parse(strings.TrimSpace(out), "secret")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.Subject != "ci" || claims.Allows(jwt.ScopeWrite) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := run(t, "token", "--scope", "admin"); err == nil {
		t.Fatalf("expected unknown scope error")
	}
}

func TestStageContextLeavesSourceUntouched(t *testing.T) {
	src := t.TempDir()
	for name, content := range map[string]string{
		"requirements.txt": "fastapi\nuvicorn\n",
		"main.py":          "app = None\n",
	} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	dir, cleanup, err := stageContext(t.TempDir(), src, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("stageContext error: %v", err)
	}
	r, _ := recipe.LookupVariant("slim-script")
	if _, err := recipe.Ensure(dir, r); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if _, err := workspace.MutateCode(dir, time.Now()); err != nil {
		t.Fatalf("MutateCode error: %v", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "main.py,requirements.txt" {
		t.Fatalf("source tree changed: %v", names)
	}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		t.Fatalf("expected Dockerfile in staged copy: %v", err)
	}

	if err := cleanup(); err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("staged copy not removed: %v", err)
	}
}
