package recipe

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

// DefaultManifest is the fixed dependency manifest file name.
const DefaultManifest = "requirements.txt"

// Requirement is one package line of a manifest.
type Requirement struct {
	Name      string
	Extras    []string
	Specifier string
	Markers   string
	URL       string
	Line      int
}

// DependencyManifest is the parsed content of requirements.txt.
type DependencyManifest struct {
	Requirements   []Requirement
	Includes       []string
	IndexURL       string
	ExtraIndexURLs []string
	Editable       []string
}

var (
	namePattern      = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)
	normalizePattern = regexp.MustCompile(`[-_.]+`)
)

// nativeDrivers maps a normalised package name to the extras that force a
// source build. A nil slice means the bare package always compiles.
var nativeDrivers = map[string][]string{
	"psycopg2": nil,
	"psycopg":  {"c"},
}

var asgiServers = []string{"uvicorn", "hypercorn", "daphne", "granian"}

// NormalizeName applies PEP 503 name normalisation.
func NormalizeName(name string) string {
	return normalizePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// LoadManifest reads and parses a requirements file.
func LoadManifest(path string) (DependencyManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return DependencyManifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}

// ParseManifest parses requirements.txt content.
func ParseManifest(r io.Reader) (DependencyManifest, error) {
	var (
		m       DependencyManifest
		pending strings.Builder
		start   int
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if pending.Len() == 0 {
			start = lineNo
		}
		if strings.HasSuffix(raw, "\\") {
			pending.WriteString(strings.TrimSuffix(raw, "\\"))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(raw)
		line := stripComment(pending.String())
		pending.Reset()
		if line == "" {
			continue
		}
		if err := m.parseLine(line, start); err != nil {
			return DependencyManifest{}, fmt.Errorf("line %d: %w", start, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return DependencyManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	if pending.Len() > 0 {
		if line := stripComment(pending.String()); line != "" {
			if err := m.parseLine(line, start); err != nil {
				return DependencyManifest{}, fmt.Errorf("line %d: %w", start, err)
			}
		}
	}
	return m, nil
}

func stripComment(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}
	if idx := strings.Index(trimmed, " #"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.Index(trimmed, "\t#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func (m *DependencyManifest) parseLine(line string, lineNo int) error {
	if strings.HasPrefix(line, "-") {
		return m.parseOption(line)
	}
	req, err := parseRequirement(line)
	if err != nil {
		return err
	}
	req.Line = lineNo
	m.Requirements = append(m.Requirements, req)
	return nil
}

func (m *DependencyManifest) parseOption(line string) error {
	flag, value := splitOption(line)
	switch flag {
	case "-r", "--requirement", "-c", "--constraint":
		m.Includes = append(m.Includes, value)
	case "-i", "--index-url":
		m.IndexURL = value
	case "--extra-index-url":
		m.ExtraIndexURLs = append(m.ExtraIndexURLs, value)
	case "-e", "--editable":
		m.Editable = append(m.Editable, value)
	case "--hash", "--no-binary", "--only-binary", "--prefer-binary", "--pre", "--trusted-host", "-f", "--find-links", "--no-index":
	default:
		return fmt.Errorf("unsupported option %q", flag)
	}
	return nil
}

func splitOption(line string) (string, string) {
	if flag, value, ok := strings.Cut(line, "="); ok && !strings.ContainsAny(flag, " \t") {
		return flag, strings.TrimSpace(value)
	}
	fields := strings.Fields(line)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
}

func parseRequirement(line string) (Requirement, error) {
	// per-requirement options such as --hash trail the specifier
	if idx := strings.Index(line, " --"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	var req Requirement
	if spec, markers, ok := strings.Cut(line, ";"); ok {
		line = strings.TrimSpace(spec)
		req.Markers = strings.TrimSpace(markers)
	}
	name := namePattern.FindString(line)
	if name == "" {
		return Requirement{}, fmt.Errorf("invalid requirement %q", line)
	}
	req.Name = NormalizeName(name)
	rest := strings.TrimSpace(line[len(name):])
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Requirement{}, fmt.Errorf("unterminated extras in %q", line)
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			if extra = NormalizeName(extra); extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}
	if strings.HasPrefix(rest, "@") {
		req.URL = strings.TrimSpace(rest[1:])
		return req, nil
	}
	req.Specifier = strings.ReplaceAll(rest, " ", "")
	return req, nil
}

// Has reports whether the manifest requires the named package.
func (m DependencyManifest) Has(name string) bool {
	_, ok := m.Lookup(name)
	return ok
}

// Lookup returns the requirement for the named package.
func (m DependencyManifest) Lookup(name string) (Requirement, bool) {
	target := NormalizeName(name)
	for _, req := range m.Requirements {
		if req.Name == target {
			return req, true
		}
	}
	return Requirement{}, false
}

// NativeDrivers lists requirements that compile against libpq.
func (m DependencyManifest) NativeDrivers() []Requirement {
	var out []Requirement
	for _, req := range m.Requirements {
		extras, ok := nativeDrivers[req.Name]
		if !ok {
			continue
		}
		if extras == nil || hasAnyExtra(req, extras) {
			out = append(out, req)
		}
	}
	return out
}

// NeedsNativeBuild reports whether installing the manifest needs a compiler
// and PostgreSQL headers.
func (m DependencyManifest) NeedsNativeBuild() bool {
	return len(m.NativeDrivers()) > 0
}

// LocalEditables returns editable installs that point into the build context
// (for example "-e ."), as opposed to VCS or remote URLs.
func (m DependencyManifest) LocalEditables() []string {
	var out []string
	for _, e := range m.Editable {
		if strings.Contains(e, "://") || strings.Contains(e, "+") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ASGIServer returns the first ASGI server package required, if any.
func (m DependencyManifest) ASGIServer() (string, bool) {
	for _, server := range asgiServers {
		if m.Has(server) {
			return server, true
		}
	}
	return "", false
}

// Fingerprint hashes the sorted requirement set; option ordering and comments
// do not change it.
func (m DependencyManifest) Fingerprint() string {
	lines := make([]string, 0, len(m.Requirements)+1)
	for _, req := range m.Requirements {
		extras := append([]string(nil), req.Extras...)
		sort.Strings(extras)
		lines = append(lines, fmt.Sprintf("%s[%s]%s@%s;%s", req.Name, strings.Join(extras, ","), req.Specifier, req.URL, req.Markers))
	}
	sort.Strings(lines)
	if m.IndexURL != "" {
		lines = append(lines, "index="+m.IndexURL)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func hasAnyExtra(req Requirement, extras []string) bool {
	for _, want := range extras {
		for _, have := range req.Extras {
			if have == want {
				return true
			}
		}
	}
	return false
}
