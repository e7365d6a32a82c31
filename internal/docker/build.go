package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
)

// BuildOutputCallback is invoked with incremental build messages.
type BuildOutputCallback func(string)

// BuildRequest describes one image build.
type BuildRequest struct {
	Dir        string
	Tag        string
	Dockerfile string
	NoCache    bool
	BuildArgs  map[string]*string
	Labels     map[string]string
}

// BuildResult is the outcome of a successful build.
type BuildResult struct {
	ImageID string      `json:"image_id"`
	Tag     string      `json:"tag"`
	Steps   []BuildStep `json:"steps"`
}

// CachedSteps counts steps served from the layer cache.
func (r BuildResult) CachedSteps() int {
	n := 0
	for _, step := range r.Steps {
		if step.Cached {
			n++
		}
	}
	return n
}

// BuildImage creates a Docker image from the provided directory. The classic
// builder is requested so the stream reports per-step cache hits.
func (c *Client) BuildImage(ctx context.Context, req BuildRequest, onOutput BuildOutputCallback) (BuildResult, error) {
	if c == nil || c.inner == nil {
		return BuildResult{}, ErrNotInitialized
	}
	if req.Dir == "" {
		return BuildResult{}, fmt.Errorf("build directory cannot be empty")
	}
	if req.Tag == "" {
		return BuildResult{}, fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(req.Dir, &archive.TarOptions{})
	if err != nil {
		return BuildResult{}, fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  req.Dockerfile,
		NoCache:     req.NoCache,
		Remove:      true,
		ForceRemove: true,
		BuildArgs:   req.BuildArgs,
		Labels:      req.Labels,
		Version:     types.BuilderV1,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return BuildResult{}, fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	tracker := &StepTracker{}
	if err := decodeBuildStream(resp.Body, tracker, onOutput); err != nil {
		return BuildResult{Tag: req.Tag, Steps: tracker.Steps()}, err
	}
	return BuildResult{ImageID: tracker.ImageID(), Tag: req.Tag, Steps: tracker.Steps()}, nil
}

func decodeBuildStream(r io.Reader, tracker *StepTracker, onOutput BuildOutputCallback) error {
	decoder := json.NewDecoder(r)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			tracker.Flush()
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if msg.Stream != "" {
			tracker.Feed(msg.Stream)
		}
		if id, ok := msg.Aux["ID"].(string); ok {
			tracker.SetImageID(id)
		}

		line := msg.render()
		if line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	tracker.Flush()
	return nil
}

// RemoveImage deletes an image and its untagged parents.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image reference cannot be empty")
	}
	if _, err := c.inner.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		return wrapNotFound("remove image", err)
	}
	return nil
}

type imageBuildMessage struct {
	Stream         string                `json:"stream"`
	Status         string                `json:"status"`
	ID             string                `json:"id"`
	Progress       string                `json:"progress"`
	ProgressDetail progressDetail        `json:"progressDetail"`
	Error          string                `json:"error"`
	ErrorDetail    imageBuildErrorDetail `json:"errorDetail"`
	Aux            map[string]any        `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimRight(m.Stream, "\n")
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && m.ProgressDetail.Total > 0 {
			progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	if id, ok := m.Aux["ID"]; ok {
		return fmt.Sprintf("image id: %v", id)
	}
	return ""
}
