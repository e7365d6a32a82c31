package bake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
	"github.com/hussain-mohammed/kirana-store/internal/git"
	"github.com/hussain-mohammed/kirana-store/internal/lint"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/store"
	"github.com/hussain-mohammed/kirana-store/internal/verify"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
	"github.com/hussain-mohammed/kirana-store/pkg/config"
	"github.com/hussain-mohammed/kirana-store/pkg/telemetry"
)

// ErrInvalidRequest marks requests rejected before queueing.
var ErrInvalidRequest = errors.New("invalid bake request")

// Request selects a source tree and a recipe to bake.
type Request struct {
	// Source is a local directory copied into the workspace.
	Source  string `json:"source,omitempty"`
	RepoURL string `json:"repo_url,omitempty"`
	Ref     string `json:"ref,omitempty"`
	// Variant names a built-in recipe; RecipeYAML supplies one inline.
	Variant    string            `json:"variant,omitempty"`
	RecipeYAML string            `json:"recipe,omitempty"`
	Properties []verify.Property `json:"properties,omitempty"`
	KeepImage  bool              `json:"keep_image,omitempty"`
}

// Verifier runs the property suite against a prepared context.
type Verifier interface {
	Run(ctx context.Context, req verify.Request) (verify.Report, error)
}

// TelemetryEmitter publishes bake lifecycle events.
type TelemetryEmitter interface {
	Emit(ctx context.Context, event telemetry.Event) error
}

// LogStream fans build output out to live readers.
type LogStream interface {
	Broadcast(bakeID string, payload []byte)
	Finish(bakeID string)
}

// CloneFunc fetches a repository into dest.
type CloneFunc func(ctx context.Context, repoURL, ref, dest string) error

// Service queues bakes and runs them in the background.
type Service struct {
	store     store.Store
	workspace *workspace.Manager
	verifier  Verifier
	logger    *slog.Logger
	cfg       config.ServiceConfig
	telemetry TelemetryEmitter
	stream    LogStream
	clone     CloneFunc
	now       func() time.Time
	wg        sync.WaitGroup
}

// Option customises a Service.
type Option func(*Service)

// WithTelemetry enables lifecycle callbacks.
func WithTelemetry(e TelemetryEmitter) Option {
	return func(s *Service) { s.telemetry = e }
}

// WithLogStream forwards build output to a stream hub.
func WithLogStream(ls LogStream) Option {
	return func(s *Service) { s.stream = ls }
}

// WithCloner overrides repository cloning.
func WithCloner(fn CloneFunc) Option {
	return func(s *Service) { s.clone = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a bake service.
func New(st store.Store, ws *workspace.Manager, verifier Verifier, logger *slog.Logger, cfg config.ServiceConfig, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		workspace: ws,
		verifier:  verifier,
		logger:    logger,
		cfg:       cfg,
		clone:     git.Clone,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveRecipe returns the inline recipe when given, else the named variant.
func ResolveRecipe(variant, recipeYAML string) (recipe.Recipe, error) {
	if strings.TrimSpace(recipeYAML) != "" {
		return recipe.DecodeFile([]byte(recipeYAML))
	}
	if strings.TrimSpace(variant) == "" {
		return recipe.Recipe{}, fmt.Errorf("%w: variant or recipe required", ErrInvalidRequest)
	}
	return recipe.LookupVariant(variant)
}

// Submit validates and queues a bake. The returned record is in the queued
// state; progress is observable through Get and the log stream.
func (s *Service) Submit(ctx context.Context, req Request) (domain.Bake, error) {
	if err := validateRequest(req); err != nil {
		return domain.Bake{}, err
	}
	r, err := ResolveRecipe(req.Variant, req.RecipeYAML)
	if err != nil {
		return domain.Bake{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r = r.WithDefaults()
	id := uuid.NewString()
	now := s.now().UTC()
	bake := domain.Bake{
		ID:        id,
		Recipe:    r.Name,
		Source:    req.Source,
		RepoURL:   req.RepoURL,
		Ref:       req.Ref,
		Image:     s.imageTag(r, id),
		Status:    domain.BakeQueued,
		Stage:     "queued",
		Message:   "bake queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, bake); err != nil {
		return domain.Bake{}, err
	}
	s.logger.Info("bake queued", "bake_id", id, "recipe", r.Name, "source", req.Source, "repo_url", req.RepoURL)
	s.emit(ctx, bake, "info")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), bake, r, req)
	}()
	return bake, nil
}

// Get returns a stored bake.
func (s *Service) Get(ctx context.Context, id string) (domain.Bake, error) {
	return s.store.Get(ctx, id)
}

// List returns recent bakes.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Bake, error) {
	return s.store.List(ctx, limit)
}

// Wait blocks until every queued bake has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func validateRequest(req Request) error {
	source := strings.TrimSpace(req.Source)
	repo := strings.TrimSpace(req.RepoURL)
	switch {
	case source == "" && repo == "":
		return fmt.Errorf("%w: source or repo_url required", ErrInvalidRequest)
	case source != "" && repo != "":
		return fmt.Errorf("%w: source and repo_url are mutually exclusive", ErrInvalidRequest)
	}
	if repo != "" {
		if err := git.ValidateURL(repo); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if source != "" {
		info, err := os.Stat(source)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: source %s is not a directory", ErrInvalidRequest, source)
		}
	}
	return nil
}

func (s *Service) imageTag(r recipe.Recipe, id string) string {
	registry := strings.Trim(strings.TrimSpace(s.cfg.Registry), "/")
	short := id
	if len(short) > 12 {
		short = short[:12]
	}
	name := r.Name + ":" + short
	if registry == "" {
		return name
	}
	return registry + "/" + name
}

func (s *Service) execute(rootCtx context.Context, bake domain.Bake, r recipe.Recipe, req Request) {
	timeout := s.cfg.BuildTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(rootCtx, timeout)
	defer cancel()
	if s.stream != nil {
		defer s.stream.Finish(bake.ID)
	}

	s.advance(ctx, &bake, "workspace", "preparing workspace")
	workdir, err := s.workspace.Prepare(bake.ID)
	if err != nil {
		s.fail(ctx, &bake, err)
		return
	}
	defer func() {
		if err := s.workspace.Cleanup(workdir); err != nil {
			s.logger.Error("workspace cleanup failed", "bake_id", bake.ID, "error", err)
		}
	}()

	if req.RepoURL != "" {
		s.advance(ctx, &bake, "clone", "cloning repository")
		gitTimeout := s.cfg.GitTimeout
		if gitTimeout <= 0 {
			gitTimeout = time.Minute
		}
		gitCtx, cancelGit := context.WithTimeout(ctx, gitTimeout)
		err := s.clone(gitCtx, req.RepoURL, req.Ref, workdir)
		cancelGit()
		if err != nil {
			s.fail(ctx, &bake, err)
			return
		}
	} else {
		s.advance(ctx, &bake, "copy", "copying source tree")
		if err := workspace.CopyTree(req.Source, workdir); err != nil {
			s.fail(ctx, &bake, err)
			return
		}
	}

	s.advance(ctx, &bake, "prepare", "preparing build context")
	prep, err := recipe.Ensure(workdir, r)
	if err != nil {
		s.fail(ctx, &bake, err)
		return
	}
	bake.Preparation = &prep
	if !prep.DockerfileGenerated {
		s.publish(bake.ID, "repository Dockerfile found; recipe rendering skipped")
	}

	manifest, haveManifest, err := loadManifest(workdir, r.Manifest)
	if err != nil {
		s.fail(ctx, &bake, err)
		return
	}

	s.advance(ctx, &bake, "lint", "linting Dockerfile")
	opts := lint.Options{ManifestName: r.Manifest, DefaultPort: r.ExposePort}
	if haveManifest {
		opts.Manifest = &manifest
	}
	report, err := lint.LintFile(filepath.Join(workdir, "Dockerfile"), opts)
	if err != nil {
		s.fail(ctx, &bake, err)
		return
	}
	bake.Lint = &report
	for _, f := range report.Findings {
		s.publish(bake.ID, "lint: "+f.String())
	}
	if report.HasErrors() {
		s.fail(ctx, &bake, fmt.Errorf("dockerfile has %d lint errors", report.Count(lint.SeverityError)))
		return
	}

	s.advance(ctx, &bake, "verify", "building and verifying image")
	result, err := s.verifier.Run(ctx, verify.Request{
		Dir:        workdir,
		Recipe:     r,
		Manifest:   manifest,
		Tag:        bake.Image,
		Properties: req.Properties,
		KeepImage:  req.KeepImage,
		Output: func(line string) {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				s.publish(bake.ID, trimmed)
			}
		},
	})
	bake.Verify = &result
	if err != nil {
		s.fail(ctx, &bake, err)
		return
	}
	for _, res := range result.Results {
		s.publish(bake.ID, fmt.Sprintf("verify: %s %s %s", res.Property, res.Status, res.Detail))
	}
	if !result.Passed() {
		var failed []string
		for _, res := range result.Results {
			if res.Status == verify.StatusFail {
				failed = append(failed, string(res.Property))
			}
		}
		s.fail(ctx, &bake, fmt.Errorf("properties failed: %s", strings.Join(failed, ", ")))
		return
	}

	s.complete(ctx, &bake)
}

func loadManifest(dir, name string) (recipe.DependencyManifest, bool, error) {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return recipe.DependencyManifest{}, false, nil
	}
	m, err := recipe.LoadManifest(path)
	if err != nil {
		return recipe.DependencyManifest{}, false, err
	}
	return m, true, nil
}

func (s *Service) advance(ctx context.Context, bake *domain.Bake, stage, message string) {
	bake.Status = domain.BakeRunning
	bake.Stage = stage
	bake.Message = message
	s.persist(ctx, bake)
	s.publish(bake.ID, message)
	s.emit(ctx, *bake, "info")
}

func (s *Service) fail(ctx context.Context, bake *domain.Bake, err error) {
	now := s.now().UTC()
	bake.Status = domain.BakeFailed
	bake.Error = err.Error()
	bake.Message = bake.Stage + " failed"
	bake.CompletedAt = &now
	s.logger.Error("bake failed", "bake_id", bake.ID, "stage", bake.Stage, "error", err)
	s.persist(ctx, bake)
	s.publish(bake.ID, "error: "+err.Error())
	s.emit(ctx, *bake, "error")
}

func (s *Service) complete(ctx context.Context, bake *domain.Bake) {
	now := s.now().UTC()
	bake.Status = domain.BakeSucceeded
	bake.Stage = "done"
	bake.Message = "bake succeeded"
	bake.CompletedAt = &now
	s.logger.Info("bake succeeded", "bake_id", bake.ID, "image", bake.Image)
	s.persist(ctx, bake)
	s.publish(bake.ID, bake.Message)
	s.emit(ctx, *bake, "info")
}

// persist writes with a detached context so a timed-out bake still records
// its failure.
func (s *Service) persist(ctx context.Context, bake *domain.Bake) {
	bake.UpdatedAt = s.now().UTC()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Save(saveCtx, *bake); err != nil {
		s.logger.Error("failed to persist bake", "bake_id", bake.ID, "error", err)
	}
}

type streamLine struct {
	BakeID string    `json:"bake_id"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

func (s *Service) publish(bakeID, line string) {
	if s.stream == nil {
		return
	}
	payload, err := json.Marshal(streamLine{BakeID: bakeID, Line: line, Time: s.now().UTC()})
	if err != nil {
		return
	}
	s.stream.Broadcast(bakeID, payload)
}

func (s *Service) emit(ctx context.Context, bake domain.Bake, level string) {
	if s.telemetry == nil {
		return
	}
	timeout := s.cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	meta := map[string]any{"image": bake.Image}
	if bake.Error != "" {
		meta["error"] = bake.Error
	}
	err := s.telemetry.Emit(emitCtx, telemetry.Event{
		BakeID:   bake.ID,
		Recipe:   bake.Recipe,
		Stage:    bake.Stage,
		Status:   bake.Status,
		Level:    level,
		Message:  bake.Message,
		Metadata: meta,
	})
	if err != nil {
		s.logger.Warn("bake telemetry failed", "bake_id", bake.ID, "error", err)
	}
}
