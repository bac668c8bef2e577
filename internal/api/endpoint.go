package api

import (
	"fmt"
	"os"
	"strings"
)

const defaultDomain = "pythonanywhere.com"

// Hostname returns the PythonAnywhere site to talk to. PYTHONANYWHERE_SITE
// wins outright; PYTHONANYWHERE_DOMAIN selects an alternate domain (eu
// accounts); otherwise the default www host is used.
func Hostname() string {
	if site := strings.TrimSpace(os.Getenv("PYTHONANYWHERE_SITE")); site != "" {
		return site
	}
	domain := strings.TrimSpace(os.Getenv("PYTHONANYWHERE_DOMAIN"))
	if domain == "" {
		domain = defaultDomain
	}
	return "www." + domain
}

// Endpoint builds the base URL for one API flavor (consoles, webapps, files),
// without a trailing slash. A bare host gets https; a host carrying its own
// scheme (local emulators) is used as-is.
func Endpoint(host, username, flavor string) string {
	return fmt.Sprintf("%s/api/v0/user/%s/%s", siteURL(host), username, flavor)
}

func siteURL(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return "https://" + host
}
