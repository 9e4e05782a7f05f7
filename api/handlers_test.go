package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/wharfd/wharf/build"
	"github.com/wharfd/wharf/container"
	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/layer"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	root := t.TempDir()

	layers, err := layer.Open(filepath.Join(root, "layers"), nil)
	if err != nil {
		t.Fatal(err)
	}
	images, err := image.Open(filepath.Join(root, "images"), nil)
	if err != nil {
		t.Fatal(err)
	}
	registry, err := container.OpenRegistry(filepath.Join(root, "container-metadata"))
	if err != nil {
		t.Fatal(err)
	}

	layerID, err := layers.Create("", "FROM scratch", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := images.Create("demo", "latest", []string{layerID}, image.Record{
		ID:     "img1",
		Config: v1.Config{Cmd: []string{"/bin/true"}},
	}); err != nil {
		t.Fatal(err)
	}

	engine := container.NewEngine(registry, layers, images, filepath.Join(root, "state"))
	executor := build.New(layers, images)
	s := NewServer("", engine, executor, images, registry)

	return s, httptest.NewServer(s.routes())
}

func TestHandleVersion(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["Version"] != "1.0.0" {
		t.Errorf("Version = %v, want 1.0.0", body["Version"])
	}
}

func TestHandleUnknownEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/bogus", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("expected non-empty error field")
	}
}

func TestHandleContainersCreateAndList(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	reqBody := `{"Image":"demo:latest","Cmd":["/bin/true"]}`
	resp, err := http.Post(ts.URL+"/containers/create", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created map[string]any
	json.NewDecoder(resp.Body).Decode(&created)
	id, _ := created["Id"].(string)
	if id == "" {
		t.Fatal("expected non-empty Id")
	}

	listResp, err := http.Get(ts.URL + "/containers/json")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var summaries []containerSummary
	json.NewDecoder(listResp.Body).Decode(&summaries)
	if len(summaries) != 1 || summaries[0].Id != id {
		t.Errorf("summaries = %+v", summaries)
	}
	if summaries[0].Status != "exited" {
		t.Errorf("Status = %q, want exited (never started)", summaries[0].Status)
	}
}

func TestHandleContainersCreateMissingImage(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/containers/create", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleImagesListAndRemove(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/images/json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var images []imageSummary
	json.NewDecoder(resp.Body).Decode(&images)
	if len(images) != 1 || images[0].RepoTags[0] != "demo:latest" {
		t.Errorf("images = %+v", images)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/images/demo", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", delResp.StatusCode)
	}
}
