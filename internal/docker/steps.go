package docker

import (
	"regexp"
	"strconv"
	"strings"
)

// BuildStep is one Dockerfile instruction as reported by the classic builder.
type BuildStep struct {
	Number      int    `json:"number"`
	Total       int    `json:"total"`
	Instruction string `json:"instruction"`
	Cached      bool   `json:"cached"`
}

var (
	stepPattern   = regexp.MustCompile(`^Step (\d+)/(\d+) : (.*)$`)
	cachedPattern = regexp.MustCompile(`^---> Using cache$`)
	builtPattern  = regexp.MustCompile(`^Successfully built ([0-9a-f]+)$`)
)

// StepTracker follows the build stream and records each step's cache outcome.
type StepTracker struct {
	steps   []BuildStep
	imageID string
	partial string
}

// Feed consumes a chunk of stream output. Chunks may split or join lines.
func (t *StepTracker) Feed(chunk string) {
	data := t.partial + chunk
	lines := strings.Split(data, "\n")
	t.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		t.line(line)
	}
}

// Flush processes any trailing partial line.
func (t *StepTracker) Flush() {
	if t.partial != "" {
		t.line(t.partial)
		t.partial = ""
	}
}

func (t *StepTracker) line(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	if m := stepPattern.FindStringSubmatch(line); m != nil {
		number, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		t.steps = append(t.steps, BuildStep{Number: number, Total: total, Instruction: strings.TrimSpace(m[3])})
		return
	}
	if cachedPattern.MatchString(line) && len(t.steps) > 0 {
		t.steps[len(t.steps)-1].Cached = true
		return
	}
	if m := builtPattern.FindStringSubmatch(line); m != nil && t.imageID == "" {
		t.imageID = m[1]
	}
}

// SetImageID records the image ID reported through aux messages.
func (t *StepTracker) SetImageID(id string) {
	if id != "" {
		t.imageID = id
	}
}

// Steps returns the recorded steps.
func (t *StepTracker) Steps() []BuildStep {
	return append([]BuildStep(nil), t.steps...)
}

// ImageID returns the built image ID, if seen.
func (t *StepTracker) ImageID() string {
	return t.imageID
}
