package domain

import (
	"time"

	"github.com/hussain-mohammed/kirana-store/internal/lint"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/verify"
)

// Bake statuses.
const (
	BakeQueued    = "queued"
	BakeRunning   = "running"
	BakeSucceeded = "succeeded"
	BakeFailed    = "failed"
)

// Bake captures one prepare, lint, build and verify run of a recipe against a
// source tree.
type Bake struct {
	ID          string              `json:"id"`
	Recipe      string              `json:"recipe"`
	Source      string              `json:"source,omitempty"`
	RepoURL     string              `json:"repo_url,omitempty"`
	Ref         string              `json:"ref,omitempty"`
	Image       string              `json:"image"`
	Status      string              `json:"status"`
	Stage       string              `json:"stage,omitempty"`
	Message     string              `json:"message,omitempty"`
	Error       string              `json:"error,omitempty"`
	Preparation *recipe.Preparation `json:"preparation,omitempty"`
	Lint        *lint.Report        `json:"lint,omitempty"`
	Verify      *verify.Report      `json:"verify,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// Terminal reports whether the bake finished.
func (b Bake) Terminal() bool {
	return b.Status == BakeSucceeded || b.Status == BakeFailed
}
