package installer

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// RepoCloner fetches a git-hosted add-on into dest.
type RepoCloner interface {
	Clone(ctx context.Context, url, ref, dest string) error
}

// GitCloner clones repositories with go-git, replacing any existing checkout.
type GitCloner struct {
	// Depth limits history; zero clones everything.
	Depth int
}

// Clone implements RepoCloner.
func (g GitCloner) Clone(ctx context.Context, url, ref, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove existing directory: %w", err)
	}

	opts := &git.CloneOptions{URL: url}
	if g.Depth > 0 {
		opts.Depth = g.Depth
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("failed to clone repository %s: %w", url, err)
	}
	return nil
}
