package api

import (
	"context"
	"fmt"
	"net/http"
	"path"
)

// Webapp mirrors the webapps API resource. Only the fields the deployer
// touches are mapped.
type Webapp struct {
	ID              int    `json:"id"`
	DomainName      string `json:"domain_name"`
	PythonVersion   string `json:"python_version"`
	VirtualenvPath  string `json:"virtualenv_path"`
	SourceDirectory string `json:"source_directory"`
}

func (c *Client) ListWebapps(ctx context.Context) ([]Webapp, error) {
	var webapps []Webapp
	if err := c.Call(ctx, http.MethodGet, c.BaseURL("webapps"), nil, &webapps); err != nil {
		return nil, err
	}
	return webapps, nil
}

func (c *Client) WebappExists(ctx context.Context, domain string) (bool, error) {
	webapps, err := c.ListWebapps(ctx)
	if err != nil {
		return false, err
	}
	for _, w := range webapps {
		if w.DomainName == domain {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) CreateWebapp(ctx context.Context, domain, pythonVersion string) error {
	body := map[string]string{
		"domain_name":    domain,
		"python_version": pythonVersion,
	}
	return c.Call(ctx, http.MethodPost, c.BaseURL("webapps"), body, nil)
}

// ConfigureWebapp patches the virtualenv and source directory the setup
// script created on the remote host.
func (c *Client) ConfigureWebapp(ctx context.Context, domain, virtualenvPath, sourceDir string) error {
	url := c.BaseURL("webapps") + "/" + domain
	body := map[string]string{
		"virtualenv_path":  virtualenvPath,
		"source_directory": sourceDir,
	}
	return c.Call(ctx, http.MethodPatch, url, body, nil)
}

func (c *Client) AddStaticFileMapping(ctx context.Context, domain, urlPrefix, dir string) error {
	url := c.BaseURL("webapps") + "/" + domain + "/static_files"
	body := map[string]string{
		"url":  urlPrefix,
		"path": dir,
	}
	return c.Call(ctx, http.MethodPost, url, body, nil)
}

func (c *Client) ReloadWebapp(ctx context.Context, domain string) error {
	return c.Call(ctx, http.MethodPost, c.BaseURL("webapps")+"/"+domain+"/reload", nil, nil)
}

// EnsureWebapp creates and wires up the webapp when it does not exist yet.
// Existing webapps are left untouched so manual configuration survives
// repeated deploys.
func (c *Client) EnsureWebapp(ctx context.Context, domain, pythonVersion, virtualenvPath, projectPath string) error {
	exists, err := c.WebappExists(ctx, domain)
	if err != nil {
		return err
	}
	if exists {
		c.log.Debug("webapp already exists", "domain", domain)
		return nil
	}
	if err := c.CreateWebapp(ctx, domain, pythonVersion); err != nil {
		return fmt.Errorf("create webapp %s: %w", domain, err)
	}
	if err := c.ConfigureWebapp(ctx, domain, virtualenvPath, projectPath); err != nil {
		return fmt.Errorf("configure webapp %s: %w", domain, err)
	}
	if err := c.AddStaticFileMapping(ctx, domain, "/static/", path.Join(projectPath, "static")); err != nil {
		return fmt.Errorf("static mapping for %s: %w", domain, err)
	}
	return nil
}
