package lint

import (
	"strings"
	"testing"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
)

func lintString(t *testing.T, dockerfile string, opts Options) Report {
	t.Helper()
	report, err := Lint(strings.NewReader(dockerfile), opts)
	if err != nil {
		t.Fatalf("Lint error: %v", err)
	}
	return report
}

func hasRule(report Report, rule string) bool {
	for _, f := range report.Findings {
		if f.Rule == rule {
			return true
		}
	}
	return false
}

func nativeManifest(t *testing.T) *recipe.DependencyManifest {
	t.Helper()
	m, err := recipe.ParseManifest(strings.NewReader("fastapi\nuvicorn\npsycopg2==2.9.9\n"))
	if err != nil {
		t.Fatalf("ParseManifest error: %v", err)
	}
	return &m
}

func TestRenderedVariantsPassLint(t *testing.T) {
	manifest := nativeManifest(t)
	for _, variant := range recipe.Variants() {
		t.Run(variant.Name, func(t *testing.T) {
			plan, err := recipe.Plan(variant, *manifest)
			if err != nil {
				t.Fatalf("Plan error: %v", err)
			}
			report := lintString(t, recipe.RenderDockerfile(plan), Options{Manifest: manifest})
			if report.HasErrors() {
				t.Fatalf("rendered variant has lint errors: %v", report.Findings)
			}
			if hasRule(report, RuleLayerOrder) {
				t.Fatalf("rendered variant violates layer order")
			}
			if report.Mode != variant.Entrypoint.Mode() {
				t.Fatalf("expected mode %s got %s", variant.Entrypoint.Mode(), report.Mode)
			}
			direct := variant.Entrypoint.Mode() == recipe.ModeDirectServe
			if hasRule(report, RuleEntrypointHardcodedPort) != direct {
				t.Fatalf("hardcoded port warning should fire only for direct serve: %v", report.Findings)
			}
			if hasRule(report, RuleEnvFlagMissing) == !variant.Env.Empty() {
				t.Fatalf("env flag finding mismatch for %+v: %v", variant.Env, report.Findings)
			}
		})
	}
}

func TestLayerOrder(t *testing.T) {
	dockerfile := `FROM python:3.11-slim
WORKDIR /app
COPY . .
RUN pip install -r requirements.txt
CMD ["sh", "start.sh"]
`
	report := lintString(t, dockerfile, Options{})
	if !hasRule(report, RuleLayerOrder) {
		t.Fatalf("expected layer-order finding, got %v", report.Findings)
	}
	if hasRule(report, RuleManifestMissing) {
		t.Fatalf("manifest arrives with the code copy")
	}
	if report.HasErrors() && !hasRule(report, RuleEntrypointNotExec) {
		t.Fatalf("unexpected errors %v", report.Findings)
	}
}

func TestManifestMissing(t *testing.T) {
	dockerfile := `FROM python:3.11-slim
RUN pip install -r requirements.txt
COPY . .
CMD python -m uvicorn main:app --host 0.0.0.0 --port 8000
`
	report := lintString(t, dockerfile, Options{})
	if !hasRule(report, RuleManifestMissing) || !report.HasErrors() {
		t.Fatalf("expected manifest-missing error, got %v", report.Findings)
	}
}

func TestManifestEditable(t *testing.T) {
	m, err := recipe.ParseManifest(strings.NewReader("fastapi\nuvicorn\n-e .\n-e git+https://example.com/lib.git#egg=lib\n"))
	if err != nil {
		t.Fatalf("ParseManifest error: %v", err)
	}
	if got := m.LocalEditables(); len(got) != 1 || got[0] != "." {
		t.Fatalf("unexpected local editables %v", got)
	}

	layered := `FROM python:3.11-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD python -m uvicorn main:app --host 0.0.0.0 --port 8000
`
	report := lintString(t, layered, Options{Manifest: &m})
	if !hasRule(report, RuleManifestEditable) || !report.HasErrors() {
		t.Fatalf("expected manifest-editable error, got %v", report.Findings)
	}
	if report := lintString(t, layered, Options{Manifest: nativeManifest(t)}); hasRule(report, RuleManifestEditable) {
		t.Fatalf("manifest without editables flagged: %v", report.Findings)
	}

	codeFirst := `FROM python:3.11-slim
WORKDIR /app
COPY . .
RUN pip install -r requirements.txt
CMD python -m uvicorn main:app --host 0.0.0.0 --port 8000
`
	report = lintString(t, codeFirst, Options{Manifest: &m})
	if hasRule(report, RuleManifestEditable) || !hasRule(report, RuleLayerOrder) {
		t.Fatalf("code-first layout should only warn on layer order, got %v", report.Findings)
	}
}

func TestSystemPackages(t *testing.T) {
	t.Run("alpine names on debian", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
RUN apt-get update && apt-get install -y gcc musl-dev postgresql-dev
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD ["python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]
`
		report := lintString(t, dockerfile, Options{Manifest: nativeManifest(t)})
		if !hasRule(report, RuleSystemPackagesForeign) {
			t.Fatalf("expected foreign package finding, got %v", report.Findings)
		}
		if !hasRule(report, RuleSystemPackagesMissing) {
			t.Fatalf("expected libpq-dev to be reported missing, got %v", report.Findings)
		}
	})

	t.Run("apt on alpine", func(t *testing.T) {
		dockerfile := `FROM python:3.11-alpine
RUN apt-get install -y gcc libpq-dev
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD ["python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]
`
		report := lintString(t, dockerfile, Options{})
		if !hasRule(report, RuleSystemPackagesForeign) {
			t.Fatalf("expected foreign manager finding, got %v", report.Findings)
		}
		if report.Distro != recipe.DistroAlpine {
			t.Fatalf("expected alpine distro, got %s", report.Distro)
		}
	})

	t.Run("installed after pip", func(t *testing.T) {
		dockerfile := `FROM python:3.11-alpine
COPY requirements.txt .
RUN pip install -r requirements.txt
RUN apk add --no-cache gcc musl-dev postgresql-dev
COPY . .
CMD ["python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]
`
		report := lintString(t, dockerfile, Options{Manifest: nativeManifest(t)})
		if !hasRule(report, RuleSystemPackagesOrder) {
			t.Fatalf("expected order finding, got %v", report.Findings)
		}
		if !hasRule(report, RuleSystemPackagesMissing) {
			t.Fatalf("packages installed after pip do not satisfy the build")
		}
	})

	t.Run("no manifest skips native check", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD ["python", "-m", "uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]
EXPOSE 8000
`
		report := lintString(t, dockerfile, Options{})
		if report.HasErrors() {
			t.Fatalf("unexpected errors %v", report.Findings)
		}
	})
}

func TestEntrypointRules(t *testing.T) {
	t.Run("script without chmod", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
COPY requirements.txt .
RUN pip install -r requirements.txt
COPY . .
CMD ["./start.sh"]
`
		report := lintString(t, dockerfile, Options{})
		if !hasRule(report, RuleEntrypointNotExec) {
			t.Fatalf("expected not-executable finding, got %v", report.Findings)
		}
	})

	t.Run("octal chmod", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
COPY . .
RUN chmod 0755 /app/start.sh
CMD ["sh", "start.sh"]
`
		report := lintString(t, dockerfile, Options{})
		if hasRule(report, RuleEntrypointNotExec) {
			t.Fatalf("chmod 0755 grants exec: %v", report.Findings)
		}
	})

	t.Run("missing", func(t *testing.T) {
		report := lintString(t, "FROM python:3.11-slim\nCOPY . .\n", Options{})
		if !hasRule(report, RuleEntrypointMissing) {
			t.Fatalf("expected entrypoint-missing, got %v", report.Findings)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
CMD ["sh", "start.sh"]
RUN chmod +x start.sh
CMD ["python", "-m", "uvicorn", "main:app", "--port", "8000"]
`
		report := lintString(t, dockerfile, Options{})
		if !hasRule(report, RuleEntrypointMultiple) {
			t.Fatalf("expected entrypoint-multiple, got %v", report.Findings)
		}
		if report.Mode != recipe.ModeDirectServe {
			t.Fatalf("last CMD wins, got %s", report.Mode)
		}
	})

	t.Run("port from env", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
EXPOSE 8000
CMD uvicorn main:app --host 0.0.0.0 --port ${PORT:-8000}
`
		report := lintString(t, dockerfile, Options{})
		if hasRule(report, RuleEntrypointHardcodedPort) || hasRule(report, RuleExposeMismatch) {
			t.Fatalf("env driven port should not warn: %v", report.Findings)
		}
	})

	t.Run("expose mismatch", func(t *testing.T) {
		dockerfile := `FROM python:3.11-slim
EXPOSE 5000
CMD ["python", "-m", "uvicorn", "main:app", "--port", "8000"]
`
		report := lintString(t, dockerfile, Options{})
		if !hasRule(report, RuleExposeMismatch) {
			t.Fatalf("expected expose-mismatch, got %v", report.Findings)
		}
	})
}

func TestEnvKeys(t *testing.T) {
	df, err := Parse(strings.NewReader("FROM python:3.11-slim\nENV PYTHONUNBUFFERED=1 \\\n    PYTHONDONTWRITEBYTECODE=1\nENV PIP_NO_CACHE_DIR 1\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	a := Analyze(df, "")
	for _, key := range []string{recipe.EnvUnbuffered, recipe.EnvNoBytecode, recipe.EnvPipNoCache} {
		if !a.HasEnv(key) {
			t.Fatalf("expected %s in %v", key, a.EnvKeys)
		}
	}
	if a.HasEnv(recipe.EnvHashSeed) {
		t.Fatalf("unexpected hash seed key")
	}
}
