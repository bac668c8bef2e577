package deploy

import (
	"fmt"
	"os/exec"
	"path"
	"strings"
)

// OriginURL returns the project's git origin as an HTTPS URL. SSH remotes
// (git@github.com:owner/repo.git) are rewritten so the remote host can clone
// without keys.
func OriginURL(projectDir string) (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	cmd.Dir = projectDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git origin url: %w", err)
	}
	return sshToHTTPS(strings.TrimSpace(string(out))), nil
}

func sshToHTTPS(origin string) string {
	if !strings.HasPrefix(origin, "git@") {
		return origin
	}
	rest := strings.TrimPrefix(origin, "git@")
	host, repoPath, ok := strings.Cut(rest, ":")
	if !ok {
		return origin
	}
	return "https://" + host + "/" + repoPath
}

// RepoName is the directory a clone of origin produces.
func RepoName(origin string) string {
	base := path.Base(origin)
	return strings.TrimSuffix(base, ".git")
}

// CommitChanges stages and commits everything in projectDir. A clean tree is
// not an error: git commit exits nonzero with "nothing to commit" and the
// deploy simply continues.
func CommitChanges(projectDir, message string) error {
	add := exec.Command("git", "add", "-A")
	add.Dir = projectDir
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add: %s", firstNonEmpty(strings.TrimSpace(string(out)), err.Error()))
	}
	commit := exec.Command("git", "commit", "-m", message)
	commit.Dir = projectDir
	if out, err := commit.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "nothing to commit") {
			return nil
		}
		return fmt.Errorf("git commit: %s", firstNonEmpty(msg, err.Error()))
	}
	return nil
}

func GitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
