package mergegate

import (
	"strings"
	"testing"

	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/github"
)

type fakeGit struct {
	calls [][]string
	fail  map[string]bool // keyed by args[0]+args[1]
}

func (g *fakeGit) Run(dir string, args ...string) (string, error) {
	g.calls = append(g.calls, args)
	key := strings.Join(args[:min(2, len(args))], " ")
	if g.fail[key] {
		return "", errFake
	}
	return "", nil
}

var errFake = &fakeError{"fake git failure"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestFallbackCleanupRemovesWorktreeAndBranch(t *testing.T) {
	git := &fakeGit{}
	issues := []execmodel.Issue{
		{Name: "a", WorktreePath: "/repo/.worktrees/issue-01-a", BranchName: "issue/01-a"},
		{Name: "b"}, // no worktree path: skipped
	}

	FallbackCleanup(git, "/repo", nil, issues)

	if len(git.calls) != 2 {
		t.Fatalf("got %d git calls, want 2 (remove worktree + delete branch), calls=%v", len(git.calls), git.calls)
	}
	if git.calls[0][0] != "worktree" || git.calls[0][1] != "remove" {
		t.Errorf("calls[0] = %v, want worktree remove", git.calls[0])
	}
	if git.calls[1][0] != "branch" {
		t.Errorf("calls[1] = %v, want branch delete", git.calls[1])
	}
}

func TestFallbackCleanupNilGitIsNoop(t *testing.T) {
	FallbackCleanup(nil, "/repo", nil, []execmodel.Issue{{Name: "a", WorktreePath: "/x"}})
}

func TestFallbackCleanupSwallowsRemoveError(t *testing.T) {
	git := &fakeGit{fail: map[string]bool{"worktree remove": true}}
	issues := []execmodel.Issue{{Name: "a", WorktreePath: "/repo/.worktrees/issue-01-a", BranchName: "issue/01-a"}}

	FallbackCleanup(git, "/repo", nil, issues)

	if len(git.calls) != 1 {
		t.Errorf("got %d calls, want 1 (branch delete skipped after failed remove)", len(git.calls))
	}
}

type fakeCmd struct {
	calls [][]string
}

func (c *fakeCmd) Run(args ...string) (string, error) {
	c.calls = append(c.calls, args)
	return "https://github.com/example/repo/pull/7", nil
}

// OpenIntegrationPR pushes via a real "git push" subprocess (github.Client's
// PushBranch doesn't go through CmdRunner), so these tests exercise only the
// paths that don't require a working remote: the nil-client and
// empty-branch short-circuits, and that a push failure in a directory that
// is not a git repository is swallowed rather than reaching CreatePR.
func TestOpenIntegrationPRNilClientIsNoop(t *testing.T) {
	OpenIntegrationPR(nil, "/repo", "integration/run-1", "main", "t", "b", nil)
}

func TestOpenIntegrationPRSkipsEmptyBranch(t *testing.T) {
	cmd := &fakeCmd{}
	client := github.NewClient(cmd)
	OpenIntegrationPR(client, "/repo", "", "main", "t", "b", nil)
	if len(cmd.calls) != 0 {
		t.Errorf("expected no calls for empty integration branch, got %v", cmd.calls)
	}
}

func TestOpenIntegrationPRSwallowsPushFailure(t *testing.T) {
	cmd := &fakeCmd{}
	client := github.NewClient(cmd)

	OpenIntegrationPR(client, t.TempDir(), "integration/run-1", "main", "t", "b", nil)

	if len(cmd.calls) != 0 {
		t.Errorf("expected CreatePR not to be reached after a push failure, got %v", cmd.calls)
	}
}
