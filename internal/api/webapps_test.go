package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnsureWebappCreatesWhenMissing(t *testing.T) {
	var created, configured, staticAdded bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/user/testuser/webapps/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[]`))
		case http.MethodPost:
			created = true
			w.Write([]byte(`{}`))
		}
	})
	mux.HandleFunc("/api/v0/user/testuser/webapps/testuser.pythonanywhere.com/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			configured = true
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v0/user/testuser/webapps/testuser.pythonanywhere.com/static_files/", func(w http.ResponseWriter, r *http.Request) {
		staticAdded = true
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	err := c.EnsureWebapp(context.Background(), "testuser.pythonanywhere.com", "3.13",
		"/home/testuser/venv", "/home/testuser/project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || !configured || !staticAdded {
		t.Fatalf("created=%t configured=%t static=%t, want all true", created, configured, staticAdded)
	}
}

func TestEnsureWebappSkipsExisting(t *testing.T) {
	var created bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/user/testuser/webapps/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"id": 1, "domain_name": "testuser.pythonanywhere.com"}]`))
		case http.MethodPost:
			created = true
			w.Write([]byte(`{}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("testuser", "tok", WithHost(srv.URL))
	err := c.EnsureWebapp(context.Background(), "testuser.pythonanywhere.com", "3.13",
		"/home/testuser/venv", "/home/testuser/project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("webapp must not be re-created when it exists")
	}
}
