package deploy

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// settingsMarker guards the appended settings block so repeated deploys stay
// idempotent.
const settingsMarker = `if os.getenv("ON_PYTHONANYWHERE"):`

// PluginRequirements are the packages the rendered settings block needs at
// runtime on the platform.
var PluginRequirements = []string{"gunicorn", "dj-database-url", "python-dotenv"}

// ModifySettings appends the platform settings block to the project's
// settings file unless it is already there.
func ModifySettings(settingsPath, allowedHost string) error {
	current, err := os.ReadFile(settingsPath)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if strings.Contains(string(current), settingsMarker) {
		return nil
	}
	block, err := renderTemplate("settings.py.tmpl", map[string]string{"AllowedHost": allowedHost})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(settingsPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append settings: %w", err)
	}
	return nil
}

// RenderWSGI produces the WSGI entry point contents for the deployed project.
func RenderWSGI(projectPath, projectName string) (string, error) {
	return renderTemplate("wsgi.py.tmpl", map[string]string{
		"ProjectPath": projectPath,
		"ProjectName": projectName,
	})
}

// EnsureGitignoreEntry makes sure pattern appears in the gitignore file,
// creating the file when missing and never duplicating the entry.
func EnsureGitignoreEntry(gitignorePath, pattern string) error {
	data, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}
	contents := string(data)
	if contents != "" && !strings.HasSuffix(contents, "\n") {
		contents += "\n"
	}
	contents += pattern + "\n"
	if err := os.WriteFile(gitignorePath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write gitignore: %w", err)
	}
	return nil
}

// AddRequirements appends any missing packages to the requirements file.
// Matching is by distribution name, so pinned entries are left alone.
func AddRequirements(requirementsPath string, packages []string) error {
	data, err := os.ReadFile(requirementsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read requirements: %w", err)
	}
	existing := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		existing[requirementName(line)] = true
	}
	contents := string(data)
	if contents != "" && !strings.HasSuffix(contents, "\n") {
		contents += "\n"
	}
	added := false
	for _, pkg := range packages {
		if existing[requirementName(pkg)] {
			continue
		}
		contents += pkg + "\n"
		added = true
	}
	if !added {
		return nil
	}
	if err := os.WriteFile(requirementsPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write requirements: %w", err)
	}
	return nil
}

// requirementName extracts the distribution name from a requirements line,
// normalized the way pip compares names (case-insensitive, - and _ equal).
func requirementName(line string) string {
	name := strings.TrimSpace(line)
	for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "[", " @ ", ";", " "} {
		if i := strings.Index(name, sep); i >= 0 {
			name = name[:i]
		}
	}
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "_", "-")
}
