package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchIndexBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"acme.x","version":"1.0.0"}]`))
	}))
	defer srv.Close()

	c := New()
	entries, err := c.FetchIndex(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "acme.x" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestFetchIndexEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"plugins":[{"id":"acme.y","version":"2.0.0"}]}`))
	}))
	defer srv.Close()

	c := New()
	entries, err := c.FetchIndex(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "acme.y" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestFetchIndexRejectsNeitherShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"foo":"bar"}`))
	}))
	defer srv.Close()

	c := New()
	if _, err := c.FetchIndex(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an object without a 'plugins' array to be rejected")
	}
}

func TestSelectExactVersion(t *testing.T) {
	entries := []Entry{
		{ID: "acme.x", Version: "1.0.0"},
		{ID: "acme.x", Version: "2.0.0"},
	}
	got, err := Select(entries, "acme.x", "1.0.0")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %s", got.Version)
	}
}

func TestSelectHighestWhenVersionOmitted(t *testing.T) {
	entries := []Entry{
		{ID: "acme.x", Version: "1.0.0"},
		{ID: "acme.x", Version: "2.0.0"},
	}
	got, err := Select(entries, "acme.x", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Version != "2.0.0" {
		t.Fatalf("expected the highest version 2.0.0, got %s", got.Version)
	}
}

func TestSelectUnknownPlugin(t *testing.T) {
	if _, err := Select(nil, "missing", ""); err == nil {
		t.Fatal("expected Select on an empty index to error")
	}
}

func TestDownload(t *testing.T) {
	body := []byte("plugin archive bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New()
	got, err := c.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("Download returned %q, want %q", got, body)
	}
}

func TestGetBoundedRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New()
	if _, err := c.Download(context.Background(), srv.URL); err == nil {
		t.Fatal("expected a non-2xx response to be rejected")
	}
}
