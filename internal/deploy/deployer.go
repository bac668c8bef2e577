package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caktus/padeploy/internal/api"
	"github.com/caktus/padeploy/internal/client"
	"github.com/caktus/padeploy/internal/console"
)

// DefaultSetupScriptURL is where the remote bootstrap script lives; the
// REMOTE_SETUP_SCRIPT_URL env var overrides it for testing script changes.
const DefaultSetupScriptURL = "https://raw.githubusercontent.com/caktus/padeploy/main/scripts/setup.sh"

// Options tune one deployment.
type Options struct {
	ProjectDir  string
	ProjectName string
	AutomateAll bool

	SetupScriptURL string
	PythonVersion  string

	// SetupPollAttempts bounds the wait for the remote setup script, which
	// installs a full virtualenv and can run for minutes.
	SetupPollAttempts int
}

type commandRunner interface {
	Run(ctx context.Context, command string) (console.Result, error)
}

// Deployer performs the initial deployment to PythonAnywhere. Without
// --automate-all it only configures the local project so the user can commit
// the changes; with it, it drives a remote console through the whole setup.
type Deployer struct {
	conn *client.Connection
	api  *api.Client
	opts Options
	log  *slog.Logger
	out  io.Writer

	// Seams for tests.
	newRunner   func(ctx context.Context) (commandRunner, error)
	openBrowser func(url string) error
}

func NewDeployer(conn *client.Connection, apiClient *api.Client, opts Options, logger *slog.Logger, out io.Writer) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	if opts.SetupScriptURL == "" {
		opts.SetupScriptURL = os.Getenv("REMOTE_SETUP_SCRIPT_URL")
	}
	if opts.SetupScriptURL == "" {
		opts.SetupScriptURL = DefaultSetupScriptURL
	}
	if opts.PythonVersion == "" {
		opts.PythonVersion = "3.13"
	}
	if opts.SetupPollAttempts <= 0 {
		opts.SetupPollAttempts = 600
	}
	d := &Deployer{
		conn:        conn,
		api:         apiClient,
		opts:        opts,
		log:         logger,
		out:         out,
		openBrowser: console.OpenBrowser,
	}
	d.newRunner = d.openConsoleRunner
	return d
}

// Deploy coordinates the overall configuration and deployment.
func (d *Deployer) Deploy(ctx context.Context) error {
	d.write("\nConfiguring project for deployment to PythonAnywhere...")

	if err := d.validate(); err != nil {
		return err
	}
	if err := d.configureProject(); err != nil {
		return err
	}
	if !d.opts.AutomateAll {
		d.write(successConfigOnly())
		return nil
	}

	if err := CommitChanges(d.opts.ProjectDir, "Configured project for deployment to PythonAnywhere."); err != nil {
		return err
	}
	deployedURL, err := d.automate(ctx)
	if err != nil {
		return err
	}
	if err := d.openBrowser(deployedURL); err != nil {
		d.log.Debug("could not open browser", "url", deployedURL, "error", err)
	}
	d.write(successAutomateAll(deployedURL))
	return nil
}

func (d *Deployer) validate() error {
	if _, err := os.Stat(d.settingsPath()); err != nil {
		return fmt.Errorf("settings file not found at %s (is --project-name right?)", d.settingsPath())
	}
	if d.opts.AutomateAll && !GitAvailable() {
		return fmt.Errorf("--automate-all needs git on PATH to push the project")
	}
	return nil
}

func (d *Deployer) configureProject() error {
	d.write("  Modifying settings...")
	if err := ModifySettings(d.settingsPath(), "*"); err != nil {
		return err
	}

	d.write("  Writing WSGI entry point...")
	wsgi, err := RenderWSGI(d.remoteProjectPath(filepath.Base(d.opts.ProjectDir)), d.opts.ProjectName)
	if err != nil {
		return err
	}
	wsgiPath := filepath.Join(d.opts.ProjectDir, "pythonanywhere_wsgi.py")
	if err := os.WriteFile(wsgiPath, []byte(wsgi), 0o644); err != nil {
		return fmt.Errorf("write wsgi: %w", err)
	}

	d.write("  Updating .gitignore...")
	if err := EnsureGitignoreEntry(filepath.Join(d.opts.ProjectDir, ".gitignore"), ".env"); err != nil {
		return err
	}

	d.write("  Adding deploy requirements...")
	return AddRequirements(filepath.Join(d.opts.ProjectDir, "requirements.txt"), PluginRequirements)
}

// automate clones the repository on the remote host via the setup script,
// then creates and reloads the webapp. Returns the deployed URL.
func (d *Deployer) automate(ctx context.Context) (string, error) {
	origin, err := OriginURL(d.opts.ProjectDir)
	if err != nil {
		return "", err
	}
	repo := RepoName(origin)

	runner, err := d.newRunner(ctx)
	if err != nil {
		return "", err
	}

	cmd := fmt.Sprintf("curl -fsSL %s | bash -s -- %s %s %s python%s",
		d.opts.SetupScriptURL, origin, repo, d.opts.ProjectName, d.opts.PythonVersion)
	d.write("  Cloning and running setup script: " + cmd)
	result, err := runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("remote setup: %w", err)
	}
	d.log.Debug("setup script finished", "output_bytes", len(result.Output))
	d.write("  Done cloning and running setup script.")

	domain := d.webappDomain()
	projectPath := d.remoteProjectPath(repo)
	d.write("  Configuring webapp " + domain + "...")
	err = d.api.EnsureWebapp(ctx, domain, d.opts.PythonVersion, projectPath+"/venv", projectPath)
	if err != nil {
		return "", err
	}

	wsgi, err := RenderWSGI(projectPath, d.opts.ProjectName)
	if err != nil {
		return "", err
	}
	if err := d.api.UploadFile(ctx, wsgiRemotePath(domain), []byte(wsgi)); err != nil {
		return "", err
	}

	d.write("  Reloading webapp...")
	if err := d.api.ReloadWebapp(ctx, domain); err != nil {
		return "", err
	}
	return "https://" + domain + "/", nil
}

func (d *Deployer) openConsoleRunner(ctx context.Context) (commandRunner, error) {
	c, err := console.Open(ctx, d.api, d.log)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	r := console.NewRunner(c, d.log)
	r.MaxAttempts = d.opts.SetupPollAttempts
	return r, nil
}

func (d *Deployer) settingsPath() string {
	return filepath.Join(d.opts.ProjectDir, d.opts.ProjectName, "settings.py")
}

func (d *Deployer) remoteProjectPath(name string) string {
	return "/home/" + d.conn.Username + "/" + name
}

// webappDomain is <username>.<site domain>: the host www.pythonanywhere.com
// serves webapps under username.pythonanywhere.com.
func (d *Deployer) webappDomain() string {
	domain := strings.TrimPrefix(d.conn.Host, "www.")
	return d.conn.Username + "." + domain
}

// wsgiRemotePath follows the platform's /var/www naming: dots in the domain
// become underscores.
func wsgiRemotePath(domain string) string {
	return "/var/www/" + strings.ReplaceAll(domain, ".", "_") + "_wsgi.py"
}

func (d *Deployer) write(msg string) {
	fmt.Fprintln(d.out, msg)
}
