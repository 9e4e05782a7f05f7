package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wharfd/wharf/build"
	"github.com/wharfd/wharf/container"
	"github.com/wharfd/wharf/internal/apierr"
	"github.com/wharfd/wharf/version"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.KindOf(err).HTTPStatus(), map[string]string{"error": err.Error()})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown endpoint %s %s", r.Method, r.URL.Path)})
}

// CreateRequest mirrors spec §6's POST /containers/create body.
type CreateRequest struct {
	Image         string   `json:"Image"`
	Cmd           []string `json:"Cmd"`
	WorkingDir    string   `json:"WorkingDir"`
	Env           []string `json:"Env"`
	PortBindings  []string `json:"PortBindings"`
	Binds         []string `json:"Binds"`
	AttachStdin   bool     `json:"AttachStdin"`
	AttachStdout  bool     `json:"AttachStdout"`
	Detach        bool     `json:"Detach"`
	Name          string   `json:"Name"`
	TTY           bool     `json:"Tty"`
	MemoryBytes   int64    `json:"MemoryBytes"`
	CPUMillis     int64    `json:"CpuMillis"`
	PidsMax       int64    `json:"PidsMax"`
}

func (s *Server) handleContainersCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidArgument, "decode request body", err))
		return
	}
	if req.Image == "" {
		writeError(w, apierr.InvalidArgumentf("Image is required"))
		return
	}

	c, err := s.Engine.Create(r.Context(), container.CreateOptions{
		Name:         req.Name,
		ImageRef:     req.Image,
		Command:      req.Cmd,
		WorkingDir:   req.WorkingDir,
		Env:          req.Env,
		PortBindings: req.PortBindings,
		Binds:        req.Binds,
		Interactive:  req.AttachStdin,
		TTY:          req.TTY,
		Detach:       req.Detach,
		Limits: container.Limits{
			MemoryBytes: req.MemoryBytes,
			CPUMillis:   req.CPUMillis,
			PidsMax:     req.PidsMax,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"Id": c.ID, "Warnings": []string{}})
}

// containerSummary is spec §6's `/containers/json` element shape.
type containerSummary struct {
	Id      string   `json:"Id"`
	Names   []string `json:"Names"`
	Image   string   `json:"Image"`
	Command string   `json:"Command"`
	Created int64    `json:"Created"`
	Status  string   `json:"Status"`
}

func (s *Server) handleContainersList(w http.ResponseWriter, r *http.Request) {
	containers := s.Registry.List()
	out := make([]containerSummary, 0, len(containers))
	for _, c := range containers {
		status := "exited"
		if c.Running() {
			status = "running"
		}
		out = append(out, containerSummary{
			Id:      c.ID,
			Names:   []string{c.Name},
			Image:   c.Image,
			Command: strings.Join(c.Command, " "),
			Created: c.Created.Unix(),
			Status:  status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Engine.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Engine.Stop(r.Context(), id, 10*time.Second); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContainerRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Engine.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleContainerLogs serves a container's combined stdout/stderr log,
// optionally following new appends (SPEC_FULL.md §C, ?follow=true).
func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.Registry.Find(id)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := os.Open(c.LogPath)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.IO, "open container log", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	reader := bufio.NewReader(f)
	io.Copy(w, reader)

	if r.URL.Query().Get("follow") != "true" {
		return
	}

	flusher, _ := w.(http.Flusher)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.Copy(w, reader); err == nil && flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleContainerExec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Cmd []string `json:"Cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidArgument, "decode request body", err))
		return
	}
	if len(req.Cmd) == 0 {
		writeError(w, apierr.InvalidArgumentf("Cmd is required"))
		return
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		writeError(w, apierr.Wrap(apierr.IO, "allocate exec output pipe", err))
		return
	}
	defer outR.Close()

	proc, err := s.Engine.Exec(r.Context(), id, req.Cmd, nil, outW, outW)
	outW.Close()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, outR)
	proc.Wait()
}

func (s *Server) handleContainerCommit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Image   string `json:"Image"`
		Tag     string `json:"Tag"`
		Message string `json:"Message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.InvalidArgument, "decode request body", err))
		return
	}
	if req.Image == "" {
		writeError(w, apierr.InvalidArgumentf("Image is required"))
		return
	}

	rec, err := s.Engine.Commit(id, req.Image, req.Tag, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"Id": rec.ID})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("t")
	dockerfile := r.URL.Query().Get("dockerfile")
	if name == "" || dockerfile == "" {
		writeError(w, apierr.InvalidArgumentf("t and dockerfile query parameters are required"))
		return
	}
	contextDir := r.URL.Query().Get("context")
	if contextDir == "" {
		contextDir = filepath.Dir(dockerfile)
	}

	f, err := os.Open(dockerfile)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.IO, "open dockerfile", err))
		return
	}
	defer f.Close()

	imgName, imgTag := splitNameTag(name)
	res, err := s.Builds.Build(r.Context(), build.Options{
		Recipe:     f,
		ContextDir: contextDir,
		Name:       imgName,
		Tag:        imgTag,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("built %s", res.Image.RepoTag())})
}

// imageSummary is spec §6's `/images/json` element shape.
type imageSummary struct {
	Id       string   `json:"Id"`
	RepoTags []string `json:"RepoTags"`
	Created  int64    `json:"Created"`
	Size     int64    `json:"Size"`
}

func (s *Server) handleImagesList(w http.ResponseWriter, r *http.Request) {
	records := s.Images.List()
	out := make([]imageSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, imageSummary{
			Id:       rec.ID,
			RepoTags: []string{rec.RepoTag()},
			Created:  rec.Created.Unix(),
			Size:     rec.SizeBytes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImageRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Images.Remove(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("removed %s", name)})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"Containers": len(s.Registry.List()),
		"Images":     len(s.Images.List()),
		"Driver":     "wharf",
	})
}

func splitNameTag(ref string) (name, tag string) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:]
		}
		if ref[i] == '/' {
			break
		}
	}
	return ref, ""
}
