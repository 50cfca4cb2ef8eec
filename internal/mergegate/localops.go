package mergegate

import (
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/github"
	"github.com/lucasnoah/dagforge/internal/logging"
	"github.com/lucasnoah/dagforge/internal/worktree"
)

// FallbackCleanup removes worktrees directly via git, bypassing the
// workspace-cleanup agent entirely. It backs the final safety-net sweep
// §4.6 describes: the agent-delegated CleanupWorktrees already makes two
// attempts for the whole batch, so by the time the executor reaches for this, the
// worktree is either already gone or the agent path can't be trusted for
// it. Errors are logged and swallowed — a single stuck worktree must
// never block process exit.
func FallbackCleanup(git worktree.GitRunner, repoPath string, log logging.Logger, issues []execmodel.Issue) {
	if log == nil {
		log = logging.Noop
	}
	if git == nil {
		return
	}
	for _, issue := range issues {
		if issue.WorktreePath == "" {
			continue
		}
		if _, err := git.Run(repoPath, "worktree", "remove", "--force", issue.WorktreePath); err != nil {
			log.Warnf("fallback cleanup: remove worktree for %s: %v", issue.Name, err)
			continue
		}
		if issue.BranchName != "" {
			if _, err := git.Run(repoPath, "branch", "-D", issue.BranchName); err != nil {
				log.Warnf("fallback cleanup: delete branch %s for %s: %v", issue.BranchName, issue.Name, err)
			}
		}
		log.Infof("fallback cleanup removed worktree for %s", issue.Name)
	}
}

// OpenIntegrationPR pushes the integration branch and opens a pull request
// against the original branch via gh; the executor calls it once a run
// finishes with no unrecoverable failures. Best-effort: every error here is logged, not
// fatal — the integration branch already holds every merged commit
// whether or not a PR gets opened for it.
func OpenIntegrationPR(gh *github.Client, repoPath, integrationBranch, originalBranch, title, body string, log logging.Logger) {
	if log == nil {
		log = logging.Noop
	}
	if gh == nil || integrationBranch == "" {
		return
	}

	if err := gh.PushBranch(repoPath, integrationBranch); err != nil {
		log.Warnf("push integration branch %s: %v", integrationBranch, err)
		return
	}

	result, err := gh.CreatePR(github.PRCreateOpts{
		Title:  title,
		Body:   body,
		Branch: integrationBranch,
		Base:   originalBranch,
	})
	if err != nil {
		log.Warnf("open integration PR for %s: %v", integrationBranch, err)
		return
	}
	log.Infof("opened integration PR: %s", result.URL)
}
