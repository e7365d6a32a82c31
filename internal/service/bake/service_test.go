package bake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
	"github.com/hussain-mohammed/kirana-store/internal/store"
	"github.com/hussain-mohammed/kirana-store/internal/verify"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
	"github.com/hussain-mohammed/kirana-store/pkg/config"
	"github.com/hussain-mohammed/kirana-store/pkg/telemetry"
)

type fakeVerifier struct {
	mu       sync.Mutex
	requests []verify.Request
	status   verify.Status
	err      error
}

func (f *fakeVerifier) Run(_ context.Context, req verify.Request) (verify.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	// The dockerfile must be present when the suite runs.
	if _, err := os.Stat(filepath.Join(req.Dir, "Dockerfile")); err != nil {
		return verify.Report{}, err
	}
	if req.Output != nil {
		req.Output("Step 1/9 : FROM python:3.11-slim\n")
	}
	status := f.status
	if status == "" {
		status = verify.StatusPass
	}
	return verify.Report{
		Recipe:  req.Recipe.Name,
		Mode:    req.Recipe.Entrypoint.Mode(),
		Results: []verify.Result{{Property: verify.PropertyPortBinding, Status: status}},
	}, f.err
}

type fakeStream struct {
	mu       sync.Mutex
	lines    []string
	finished []string
}

func (f *fakeStream) Broadcast(_ string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, string(payload))
}

func (f *fakeStream) Finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, id)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (f *fakeEmitter) Emit(_ context.Context, e telemetry.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	verifier *fakeVerifier
	stream   *fakeStream
	emitter  *fakeEmitter
	root     string
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace.New error: %v", err)
	}
	f := fixture{
		store:    store.NewMemory(),
		verifier: &fakeVerifier{},
		stream:   &fakeStream{},
		emitter:  &fakeEmitter{},
		root:     root,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogStream(f.stream), WithTelemetry(f.emitter)}, opts...)
	f.svc = New(f.store, ws, f.verifier, logger, config.ServiceConfig{Registry: "kirana", BuildTimeout: time.Minute}, opts...)
	return f
}

func sourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func kiranaTree(t *testing.T) string {
	return sourceTree(t, map[string]string{
		"requirements.txt": "fastapi\nuvicorn\npsycopg2==2.9.9\n",
		"main.py":          "app = None\n",
	})
}

func (f fixture) finished(t *testing.T, id string) domain.Bake {
	t.Helper()
	f.svc.Wait()
	bake, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bake.Terminal() {
		t.Fatalf("bake not finished: %+v", bake)
	}
	return bake
}

func TestSubmitSucceeds(t *testing.T) {
	f := newFixture(t)
	queued, err := f.svc.Submit(context.Background(), Request{Source: kiranaTree(t), Variant: "railway-script"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if queued.Status != domain.BakeQueued {
		t.Fatalf("expected queued, got %s", queued.Status)
	}
	if !strings.HasPrefix(queued.Image, "kirana/railway-script:") {
		t.Fatalf("unexpected image tag %q", queued.Image)
	}

	bake := f.finished(t, queued.ID)
	if bake.Status != domain.BakeSucceeded {
		t.Fatalf("expected success, got %+v", bake)
	}
	if bake.Preparation == nil || !bake.Preparation.DockerfileGenerated || !bake.Preparation.ScriptGenerated {
		t.Fatalf("expected generated artifacts, got %+v", bake.Preparation)
	}
	if bake.Lint == nil || bake.Lint.HasErrors() {
		t.Fatalf("unexpected lint report %+v", bake.Lint)
	}
	if len(f.verifier.requests) != 1 || f.verifier.requests[0].Tag != queued.Image {
		t.Fatalf("unexpected verify requests %+v", f.verifier.requests)
	}
	if !f.verifier.requests[0].Manifest.NeedsNativeBuild() {
		t.Fatalf("manifest not passed to the suite")
	}
	if len(f.stream.finished) != 1 || f.stream.finished[0] != queued.ID {
		t.Fatalf("stream not finished: %v", f.stream.finished)
	}
	joined := strings.Join(f.stream.lines, "\n")
	if !strings.Contains(joined, "Step 1/9") {
		t.Fatalf("build output not streamed:\n%s", joined)
	}
	first, last := f.emitter.events[0], f.emitter.events[len(f.emitter.events)-1]
	if first.Status != domain.BakeQueued || last.Status != domain.BakeSucceeded {
		t.Fatalf("unexpected telemetry sequence %+v", f.emitter.events)
	}
	entries, _ := os.ReadDir(f.root)
	if len(entries) != 0 {
		t.Fatalf("workspace not cleaned up: %v", entries)
	}
}

func TestSubmitFailsOnLintErrors(t *testing.T) {
	f := newFixture(t)
	src := sourceTree(t, map[string]string{
		"requirements.txt": "fastapi\n",
		"Dockerfile":       "FROM python:3.11-slim\nRUN pip install -r requirements.txt\nCOPY . .\nCMD [\"./start.sh\"]\n",
	})
	queued, err := f.svc.Submit(context.Background(), Request{Source: src, Variant: "slim-direct"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	bake := f.finished(t, queued.ID)
	if bake.Status != domain.BakeFailed || bake.Stage != "lint" {
		t.Fatalf("expected lint failure, got %+v", bake)
	}
	if bake.Preparation.DockerfileGenerated {
		t.Fatalf("repository Dockerfile must be honoured")
	}
	if len(f.verifier.requests) != 0 {
		t.Fatalf("verify must not run after lint errors")
	}
}

func TestSubmitFailsOnProperty(t *testing.T) {
	f := newFixture(t)
	f.verifier.status = verify.StatusFail
	queued, err := f.svc.Submit(context.Background(), Request{Source: kiranaTree(t), Variant: "slim-script"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	bake := f.finished(t, queued.ID)
	if bake.Status != domain.BakeFailed || !strings.Contains(bake.Error, "port_binding") {
		t.Fatalf("expected property failure, got %+v", bake)
	}
	if bake.Verify == nil {
		t.Fatalf("verify report must be recorded on failure")
	}
}

func TestSubmitClonesRepository(t *testing.T) {
	var gotURL, gotRef string
	cloner := func(_ context.Context, repoURL, ref, dest string) error {
		gotURL, gotRef = repoURL, ref
		for name, content := range map[string]string{"requirements.txt": "fastapi\nuvicorn\n", "main.py": "app = None\n"} {
			if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	f := newFixture(t, WithCloner(cloner))
	queued, err := f.svc.Submit(context.Background(), Request{RepoURL: "https://example.com/kirana.git", Ref: "main", Variant: "alpine-direct"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	bake := f.finished(t, queued.ID)
	if bake.Status != domain.BakeSucceeded {
		t.Fatalf("expected success, got %+v", bake)
	}
	if gotURL != "https://example.com/kirana.git" || gotRef != "main" {
		t.Fatalf("unexpected clone args %q %q", gotURL, gotRef)
	}
	if len(bake.Preparation.SystemPackages) != 0 {
		t.Fatalf("no native driver, no system packages: %v", bake.Preparation.SystemPackages)
	}
}

func TestSubmitCloneFailure(t *testing.T) {
	f := newFixture(t, WithCloner(func(context.Context, string, string, string) error {
		return errors.New("repository not found")
	}))
	queued, err := f.svc.Submit(context.Background(), Request{RepoURL: "https://example.com/missing.git", Variant: "slim-direct"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	bake := f.finished(t, queued.ID)
	if bake.Stage != "clone" || bake.Status != domain.BakeFailed {
		t.Fatalf("expected clone failure, got %+v", bake)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	src := kiranaTree(t)
	cases := map[string]Request{
		"no source":       {Variant: "slim-direct"},
		"both sources":    {Source: src, RepoURL: "https://example.com/x.git", Variant: "slim-direct"},
		"missing dir":     {Source: filepath.Join(src, "nope"), Variant: "slim-direct"},
		"no recipe":       {Source: src},
		"unknown variant": {Source: src, Variant: "distroless"},
		"bad inline":      {Source: src, RecipeYAML: "name: Bad Name\n"},
		"option url":      {RepoURL: "--upload-pack=id", Variant: "slim-direct"},
		"ext transport":   {RepoURL: "ext::sh -c id", Variant: "slim-direct"},
		"escaping script": {Source: src, RecipeYAML: "name: x\nentrypoint:\n  mode: SCRIPTED_SERVE\n  script: ../../x.sh\n"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestResolveRecipeInline(t *testing.T) {
	r, err := ResolveRecipe("", "name: kirana-api\nextends: slim-script\nexpose_port: 8080\n")
	if err != nil {
		t.Fatalf("ResolveRecipe error: %v", err)
	}
	if r.Name != "kirana-api" || r.ExposePort != 8080 {
		t.Fatalf("unexpected recipe %+v", r)
	}
}
