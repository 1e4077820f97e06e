package worker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/opscore/orchestrator/internal/errs"
)

// runIDPattern matches the run identifier pattern used when
// deriving branch names; RE2 handles this one directly, unlike the branch
// name pattern below.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// scpLikePattern recognizes the git@host:path shorthand, which is not a URL
// in the net/url sense — git accepts it as an alias for the ssh scheme.
var scpLikePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+@[A-Za-z0-9_.-]+:[A-Za-z0-9._/-]+$`)

// branchCharset matches every character a Git remote's ref-name rules are
// expected to see in a branch name; anything outside it is rejected outright
// rather than risk a shell- or git-ref-metacharacter smuggled through.
var branchCharset = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)

// ValidateRunID checks a run's public identifier before it is interpolated
// into a branch name.
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return errs.New(errs.InvalidInput, fmt.Sprintf("run id %q does not match required pattern", runID), nil)
	}
	return nil
}

// ValidateRepoURL enforces workspace-mode input validation: a
// scheme allowlist of https, ssh, or the git@host:path shorthand, a
// leading-dash rejection (a bare "-..." string can be mistaken for a git
// flag by a naive command builder), and percent-decoding before every
// pattern check so an encoded dash or scheme cannot slip past the same
// gates a raw one would trip.
func ValidateRepoURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errs.New(errs.InvalidInput, "repo url is empty", nil)
	}
	if strings.HasPrefix(raw, "-") {
		return errs.New(errs.InvalidInput, "repo url must not begin with -", nil)
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return errs.New(errs.InvalidInput, fmt.Sprintf("repo url is not valid percent-encoding: %v", err), nil)
	}
	if strings.HasPrefix(decoded, "-") {
		return errs.New(errs.InvalidInput, "repo url decodes to a string beginning with -", nil)
	}

	if scpLikePattern.MatchString(decoded) {
		return nil
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return errs.New(errs.InvalidInput, fmt.Sprintf("repo url is not a valid URL: %v", err), nil)
	}
	switch u.Scheme {
	case "https", "ssh":
		if u.Host == "" {
			return errs.New(errs.InvalidInput, "repo url has no host", nil)
		}
		return nil
	default:
		return errs.New(errs.InvalidInput, fmt.Sprintf("repo url scheme %q is not permitted", u.Scheme), nil)
	}
}

// ValidateBranchName implements the branch name pattern,
// ^(?![-.]|.*\.\.)[A-Za-z0-9/_.-]+(?<!\.lock)$, by hand: Go's RE2 engine
// accepts neither the leading negative lookahead nor the trailing negative
// lookbehind, so the three clauses are checked directly instead of compiled.
func ValidateBranchName(name string) error {
	if name == "" {
		return errs.New(errs.InvalidInput, "branch name is empty", nil)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return errs.New(errs.InvalidInput, fmt.Sprintf("branch name %q must not start with - or .", name), nil)
	}
	if strings.Contains(name, "..") {
		return errs.New(errs.InvalidInput, fmt.Sprintf("branch name %q must not contain ..", name), nil)
	}
	if !branchCharset.MatchString(name) {
		return errs.New(errs.InvalidInput, fmt.Sprintf("branch name %q contains characters outside [A-Za-z0-9/_.-]", name), nil)
	}
	if strings.HasSuffix(name, ".lock") {
		return errs.New(errs.InvalidInput, fmt.Sprintf("branch name %q must not end with .lock", name), nil)
	}
	return nil
}

// WorkspaceBranchName derives the per-run branch name workspace mode creates
// before invoking the coding agent, validating both inputs first.
func WorkspaceBranchName(runID, jobID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	branch := fmt.Sprintf("orchestrator/%s/%s", runID, jobID)
	if err := ValidateBranchName(branch); err != nil {
		return "", err
	}
	return branch, nil
}
