package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// ErrUnsupportedURL rejects repository URLs git would treat as options or
// hand to a transport helper.
var ErrUnsupportedURL = errors.New("git: unsupported repository url")

var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^:]`)

// ValidateURL accepts http(s), ssh and scp-style user@host:path URLs.
func ValidateURL(repoURL string) error {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.HasPrefix(repoURL, "-") || strings.Contains(repoURL, "::") {
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, repoURL)
	}
	if scpLike.MatchString(repoURL) {
		return nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	switch u.Scheme {
	case "http", "https", "ssh":
		if u.Host == "" {
			return fmt.Errorf("%w: %q has no host", ErrUnsupportedURL, repoURL)
		}
		return nil
	}
	return fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
}

// Clone shallow-clones the repository into dest. An empty ref checks out the
// default branch.
func Clone(ctx context.Context, repoURL, ref, dest string) error {
	if err := ValidateURL(repoURL); err != nil {
		return err
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if strings.HasPrefix(strings.TrimSpace(ref), "-") {
		return fmt.Errorf("invalid ref %q", ref)
	}
	cmd := exec.CommandContext(ctx, "git", cloneArgs(strings.TrimSpace(repoURL), ref)...)
	cmd.Dir = dest
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ALLOW_PROTOCOL=http:https:ssh")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func cloneArgs(repoURL, ref string) []string {
	args := []string{"clone", "--depth", "1"}
	if ref = strings.TrimSpace(ref); ref != "" {
		args = append(args, "--branch", ref)
	}
	return append(args, "--", repoURL, ".")
}
