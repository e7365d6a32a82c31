package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// Distro identifies the OS family underneath a Python runtime image.
type Distro string

const (
	DistroDebian Distro = "debian"
	DistroAlpine Distro = "alpine"

	defaultPythonVersion = "3.11"
)

// ErrUnknownDistro indicates a base image flavor with no package table entry.
var ErrUnknownDistro = errors.New("recipe: unknown distribution")

func (d Distro) String() string {
	if d == "" {
		return string(DistroDebian)
	}
	return string(d)
}

// ParseDistro maps user facing flavor names onto a distribution family.
func ParseDistro(value string) (Distro, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "debian", "slim", "bookworm", "bullseye":
		return DistroDebian, nil
	case "alpine":
		return DistroAlpine, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDistro, value)
	}
}

// BaseImage is the Python runtime a recipe starts from.
type BaseImage struct {
	PythonVersion string
	Distro        Distro
}

// Reference renders the image reference used in the FROM instruction.
func (b BaseImage) Reference() string {
	version := strings.TrimSpace(b.PythonVersion)
	if version == "" {
		version = defaultPythonVersion
	}
	switch b.Distro {
	case DistroAlpine:
		return "python:" + version + "-alpine"
	default:
		return "python:" + version + "-slim"
	}
}

// Validate checks that the image has a package table entry.
func (b BaseImage) Validate() error {
	if _, err := SystemPackagesFor(b.Distro); err != nil {
		return err
	}
	if strings.ContainsAny(b.PythonVersion, " :/@") {
		return fmt.Errorf("invalid python version %q", b.PythonVersion)
	}
	return nil
}

// ParseBaseImage derives a BaseImage from an image reference such as
// python:3.11-slim, python:3.12-alpine3.20 or docker.io/library/python:3.11-slim-bookworm.
func ParseBaseImage(ref string) (BaseImage, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return BaseImage{}, fmt.Errorf("base image reference cannot be empty")
	}
	if idx := strings.Index(trimmed, "@"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	repo, tag, hasTag := strings.Cut(trimmed, ":")
	if slash := strings.LastIndex(repo, "/"); slash >= 0 {
		repo = repo[slash+1:]
	}
	if repo != "python" {
		return BaseImage{}, fmt.Errorf("base image %q is not a python runtime", ref)
	}
	if !hasTag || tag == "" {
		return BaseImage{PythonVersion: "latest", Distro: DistroDebian}, nil
	}
	version, flavor, _ := strings.Cut(tag, "-")
	base := BaseImage{PythonVersion: version, Distro: DistroDebian}
	switch {
	case strings.HasPrefix(flavor, "alpine"):
		base.Distro = DistroAlpine
	case flavor == "", strings.HasPrefix(flavor, "slim"), strings.HasPrefix(flavor, "bookworm"), strings.HasPrefix(flavor, "bullseye"):
		base.Distro = DistroDebian
	default:
		return BaseImage{}, fmt.Errorf("%w: tag %q", ErrUnknownDistro, tag)
	}
	return base, nil
}
