package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caktus/padeploy/internal/api"
	cliconfig "github.com/caktus/padeploy/internal/cli/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, _ := os.Executable()
			exe = strings.TrimSpace(exe)
			look, _ := exec.LookPath("padeploy")
			look = strings.TrimSpace(look)

			fmt.Fprintf(os.Stdout, "padeploy_executable=%s\n", exe)
			if look != "" {
				fmt.Fprintf(os.Stdout, "padeploy_on_path=%s\n", look)
			}
			if exe != "" && look != "" {
				absExe, _ := filepath.EvalSymlinks(exe)
				absLook, _ := filepath.EvalSymlinks(look)
				if absExe != "" && absLook != "" && absExe != absLook {
					fmt.Fprintln(os.Stdout, "warning=you_are_not_running_the_same_padeploy_as_on_PATH (adjust PATH or call the intended binary explicitly)")
				}
			}

			git, _ := exec.LookPath("git")
			fmt.Fprintf(os.Stdout, "git_on_path=%s\n", strings.TrimSpace(git))
			fmt.Fprintf(os.Stdout, "api_hostname=%s\n", api.Hostname())
			fmt.Fprintf(os.Stdout, "API_USER_set=%t\n", os.Getenv("API_USER") != "")

			cfgPath := effectiveConfigPath(cmd)
			fmt.Fprintf(os.Stdout, "config_path=%s\n", cfgPath)
			cfg, err := cliconfig.Load(cfgPath)
			if err != nil {
				fmt.Fprintf(os.Stdout, "config_error=%s\n", err.Error())
				return nil
			}

			// The token env var is whatever the selected context names, not
			// necessarily API_TOKEN.
			tokenEnv := tokenEnvName(cfg, flagValue(cmd, "context"))
			fmt.Fprintf(os.Stdout, "token_env=%s\n", tokenEnv)
			fmt.Fprintf(os.Stdout, "token_env_set=%t\n", os.Getenv(tokenEnv) != "")

			if cfg == nil {
				fmt.Fprintln(os.Stdout, "config_present=false")
				return nil
			}
			fmt.Fprintln(os.Stdout, "config_present=true")
			fmt.Fprintf(os.Stdout, "current_context=%s\n", strings.TrimSpace(cfg.CurrentContext))
			names := make([]string, 0, len(cfg.Contexts))
			for k := range cfg.Contexts {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, name := range names {
				c := cfg.Contexts[name]
				if c == nil {
					continue
				}
				fmt.Fprintf(os.Stdout, "context=%s host=%s username=%s token_env=%s timeout=%d\n",
					name,
					strings.TrimSpace(c.Host),
					strings.TrimSpace(c.Username),
					strings.TrimSpace(c.TokenEnv),
					c.TimeoutSeconds,
				)
			}
			return nil
		},
	}
	return cmd
}

func effectiveConfigPath(cmd *cobra.Command) string {
	if v := flagValue(cmd, "config"); v != "" {
		return v
	}
	if v := os.Getenv("PADEPLOY_CONFIG"); v != "" {
		return v
	}
	return cliconfig.DefaultConfigPath()
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// tokenEnvName mirrors ResolveConnection: the selected context's tokenEnv
// when it names one, API_TOKEN otherwise.
func tokenEnvName(cfg *cliconfig.Config, contextName string) string {
	if cfg != nil {
		if ctx, _, err := cfg.Resolve(contextName); err == nil && ctx != nil && strings.TrimSpace(ctx.TokenEnv) != "" {
			return strings.TrimSpace(ctx.TokenEnv)
		}
	}
	return "API_TOKEN"
}
