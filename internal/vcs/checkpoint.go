// Package vcs provides an optional coarse pre-campaign checkpoint through
// git, outside the per-file backup mechanism. Absence of git (or of a
// repository) degrades gracefully: the campaign proceeds on per-file
// backups alone.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoRepository indicates the workspace is not under git control.
var ErrNoRepository = errors.New("workspace is not a git repository")

// Checkpoint records the working tree state as a tagged stash commit and
// returns the tag name. The working tree is left untouched (stash create
// does not modify it).
func Checkpoint(ctx context.Context, workspace string, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if out, err := git(ctx, workspace, "rev-parse", "--is-inside-work-tree"); err != nil || strings.TrimSpace(out) != "true" {
		return "", ErrNoRepository
	}

	commit, err := git(ctx, workspace, "stash", "create", "narrowd pre-campaign checkpoint")
	if err != nil {
		return "", fmt.Errorf("creating checkpoint commit: %w", err)
	}
	commit = strings.TrimSpace(commit)
	if commit == "" {
		// Clean tree: checkpoint the current HEAD instead.
		head, err := git(ctx, workspace, "rev-parse", "HEAD")
		if err != nil {
			return "", fmt.Errorf("resolving HEAD: %w", err)
		}
		commit = strings.TrimSpace(head)
	}

	tag := fmt.Sprintf("narrowd-checkpoint-%s", time.Now().Format("20060102-150405"))
	if _, err := git(ctx, workspace, "tag", tag, commit); err != nil {
		return "", fmt.Errorf("tagging checkpoint: %w", err)
	}

	log.Info("checkpoint created", zap.String("tag", tag), zap.String("commit", commit))
	return tag, nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
