package sourcecache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
	"github.com/kevinburke/ssh_config"
)

// GitHelper fetches a pinned ref from a git repository into a bare clone
// keyed by content checksum, shelling out to the system git binary the same
// way the rest of this codebase wraps external tools.
type GitHelper struct {
	Dir string
}

func NewGitHelper(dir string) *GitHelper {
	return &GitHelper{Dir: dir}
}

func (g *GitHelper) path(checksum string) string {
	return filepath.Join(g.Dir, checksum)
}

func (g *GitHelper) Exists(ctx context.Context, checksum string) (bool, error) {
	_, err := os.Stat(filepath.Join(g.path(checksum), "HEAD"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (g *GitHelper) Fetch(ctx context.Context, checksum string, descriptor manifest.SourceDesc) error {
	if descriptor.URL == "" {
		return errorkind.New(errorkind.SourceFetch, checksum, "git source descriptor has no url", nil)
	}
	if descriptor.Ref == "" {
		return errorkind.New(errorkind.SourceFetch, checksum, "git source descriptor has no ref", nil)
	}

	env, err := gitSSHEnv(descriptor)
	if err != nil {
		return errorkind.New(errorkind.SourceAuth, checksum, "resolving git ssh auth", err)
	}

	tmpDir, err := os.MkdirTemp(g.Dir, ".tmp-clone-")
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "creating scratch clone directory", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := gitRun(ctx, env, "", "clone", "--bare", "--depth", "1", "--branch", descriptor.Ref, descriptor.URL, tmpDir); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "git clone failed", err)
	}

	headRef, err := gitOutput(ctx, env, tmpDir, "rev-parse", "HEAD")
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "resolving cloned HEAD", err)
	}
	if err := verifyGitChecksum(strings.TrimSpace(headRef), checksum); err != nil {
		return err
	}

	dst := g.path(checksum)
	if err := os.RemoveAll(dst); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "clearing destination", err)
	}
	if err := os.Rename(tmpDir, dst); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "renaming clone into cache", err)
	}
	return nil
}

// verifyGitChecksum accepts a checksum whose hex payload equals the
// resolved commit id, matching this source kind's convention that the
// declared checksum IS the git commit hash rather than a hash-of-bytes.
func verifyGitChecksum(commit, checksum string) error {
	hex, err := parseSHA256Checksum(checksum)
	if err != nil {
		// Not sha256-prefixed: git checksums may simply be the bare commit
		// id without an algorithm prefix.
		if checksum != commit {
			return errorkind.New(errorkind.SourceChecksum, checksum, "resolved commit "+commit+" does not match declared checksum", nil)
		}
		return nil
	}
	if hex != commit {
		return errorkind.New(errorkind.SourceChecksum, checksum, "resolved commit "+commit+" does not match declared checksum", nil)
	}
	return nil
}

func gitRun(ctx context.Context, env []string, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = env
	slog.DebugContext(ctx, "sourcecache.git", "cmd", strings.Join(cmd.Args, " "))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w (output: %s)", err, out)
	}
	return nil
}

func gitOutput(ctx context.Context, env []string, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.Output()
	return string(out), err
}

// gitSSHEnv resolves a per-host IdentityFile from the user's ssh config
// (honoring the same precedence git itself would) and exports it to the
// subprocess via GIT_SSH_COMMAND, since the manifest names a secret
// reference rather than an inline key.
func gitSSHEnv(descriptor manifest.SourceDesc) ([]string, error) {
	env := os.Environ()
	if !strings.HasPrefix(descriptor.URL, "git@") && !strings.Contains(descriptor.URL, "ssh://") {
		return env, nil
	}

	host := sshHostFromGitURL(descriptor.URL)
	identity := ssh_config.Get(host, "IdentityFile")
	if identity == "" {
		return env, nil
	}
	identity = expandHome(identity)
	return append(env, "GIT_SSH_COMMAND=ssh -i "+identity+" -o IdentitiesOnly=yes"), nil
}

func sshHostFromGitURL(url string) string {
	rest := strings.TrimPrefix(url, "ssh://")
	if at := strings.Index(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	if colon := strings.Index(rest, ":"); colon >= 0 {
		rest = rest[:colon]
	}
	return rest
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
