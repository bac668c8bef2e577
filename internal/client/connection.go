package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caktus/padeploy/internal/api"
	cliconfig "github.com/caktus/padeploy/internal/cli/config"
)

// Connection is everything needed to talk to one PythonAnywhere account.
type Connection struct {
	Host        string
	Username    string
	Token       string
	Timeout     time.Duration
	ConfigPath  string
	ContextName string
	Config      *cliconfig.Config
	Context     *cliconfig.Context
}

// ResolveConnection mirrors cmd/padeploy's config semantics:
// 1) flags (host, username, timeout, contextName)
// 2) config file values
// 3) environment (API_USER, API_TOKEN, PYTHONANYWHERE_SITE/_DOMAIN)
// 4) defaults (www.pythonanywhere.com, 30s)
func ResolveConnection(configPath, contextName, host, username string, timeout time.Duration) (*Connection, error) {
	conn := &Connection{
		ConfigPath:  configPath,
		ContextName: contextName,
		Host:        host,
		Username:    username,
		Timeout:     timeout,
	}

	if conn.ConfigPath != "" {
		cfg, err := cliconfig.Load(conn.ConfigPath)
		if err != nil {
			return nil, err
		}
		conn.Config = cfg
	}

	if conn.Config != nil {
		ctx, _, err := conn.Config.Resolve(conn.ContextName)
		if err != nil {
			return nil, err
		}
		conn.Context = ctx
	}

	if conn.Host == "" && conn.Context != nil {
		conn.Host = conn.Context.Host
	}
	if conn.Username == "" && conn.Context != nil {
		conn.Username = conn.Context.Username
	}

	if conn.Timeout == 0 {
		if conn.Context != nil && conn.Context.TimeoutSeconds > 0 {
			conn.Timeout = time.Duration(conn.Context.TimeoutSeconds) * time.Second
		} else {
			conn.Timeout = 30 * time.Second
		}
	}

	if conn.Host == "" {
		conn.Host = api.Hostname()
	}
	if conn.Username == "" {
		conn.Username = strings.TrimSpace(os.Getenv("API_USER"))
	}
	if conn.Username == "" {
		return nil, fmt.Errorf("username is required (flag, config context, or API_USER)")
	}

	tokenEnv := "API_TOKEN"
	if conn.Context != nil && strings.TrimSpace(conn.Context.TokenEnv) != "" {
		tokenEnv = strings.TrimSpace(conn.Context.TokenEnv)
	}
	conn.Token = strings.TrimSpace(os.Getenv(tokenEnv))
	if conn.Token == "" {
		return nil, fmt.Errorf("API token is required (set %s)", tokenEnv)
	}

	return conn, nil
}

// NewClient builds an API client from the resolved connection.
func (c *Connection) NewClient(opts ...api.Option) *api.Client {
	base := []api.Option{api.WithHost(c.Host), api.WithTimeout(c.Timeout)}
	return api.NewClient(c.Username, c.Token, append(base, opts...)...)
}
