package api

import (
	"net/http"
)

// routes builds the closed routing table from spec §6, plus the three
// routes SPEC_FULL.md §C adds (logs, exec, commit) which the spec's CLI
// surface table already implies exist. Go 1.22's method+wildcard ServeMux
// patterns replace the teacher's flat HandleFunc table now that path
// parameters ({id}, {name}) are involved.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /containers/create", s.handleContainersCreate)
	mux.HandleFunc("GET /containers/json", s.handleContainersList)
	mux.HandleFunc("POST /containers/{id}/start", s.handleContainerStart)
	mux.HandleFunc("POST /containers/{id}/stop", s.handleContainerStop)
	mux.HandleFunc("DELETE /containers/{id}/remove", s.handleContainerRemove)
	mux.HandleFunc("GET /containers/{id}/logs", s.handleContainerLogs)
	mux.HandleFunc("POST /containers/{id}/exec", s.handleContainerExec)
	mux.HandleFunc("POST /containers/{id}/commit", s.handleContainerCommit)

	mux.HandleFunc("POST /build", s.handleBuild)

	mux.HandleFunc("GET /images/json", s.handleImagesList)
	mux.HandleFunc("DELETE /images/{name}", s.handleImageRemove)

	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /info", s.handleInfo)

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}
