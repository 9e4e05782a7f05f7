package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wharfd/wharf/version"
)

// Client is the CLI's daemon client, grounded on the teacher's
// MuxClient.doRequest pattern in mux_client.go, adapted from a Unix socket
// transport to the spec's loopback TCP wire protocol with
// "Connection: close" per request (spec §6).
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient returns a Client targeting the daemon at addr (e.g. "127.0.0.1:2375").
func NewClient(addr string) *Client {
	return &Client{
		BaseURL: "http://" + addr,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, result any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Close = true
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// Version fetches the daemon's /version response.
func (c *Client) Version(ctx context.Context) (version.Info, error) {
	var info version.Info
	err := c.doRequest(ctx, http.MethodGet, "/version", nil, nil, &info)
	return info, err
}

// CreateContainer issues POST /containers/create.
func (c *Client) CreateContainer(ctx context.Context, req CreateRequest) (string, error) {
	var resp struct {
		Id       string   `json:"Id"`
		Warnings []string `json:"Warnings"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/containers/create", nil, req, &resp)
	return resp.Id, err
}

// StartContainer issues POST /containers/{id}/start.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodPost, "/containers/"+id+"/start", nil, nil, nil)
}

// StopContainer issues POST /containers/{id}/stop.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodPost, "/containers/"+id+"/stop", nil, nil, nil)
}

// RemoveContainer issues DELETE /containers/{id}/remove.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/containers/"+id+"/remove", nil, nil, nil)
}

// ListContainers issues GET /containers/json.
func (c *Client) ListContainers(ctx context.Context) ([]containerSummary, error) {
	var out []containerSummary
	err := c.doRequest(ctx, http.MethodGet, "/containers/json", nil, nil, &out)
	return out, err
}

// ListImages issues GET /images/json.
func (c *Client) ListImages(ctx context.Context) ([]imageSummary, error) {
	var out []imageSummary
	err := c.doRequest(ctx, http.MethodGet, "/images/json", nil, nil, &out)
	return out, err
}

// RemoveImage issues DELETE /images/{name}.
func (c *Client) RemoveImage(ctx context.Context, name string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	err := c.doRequest(ctx, http.MethodDelete, "/images/"+name, nil, nil, &resp)
	return resp.Message, err
}

// Build issues POST /build with t and dockerfile (and optionally context)
// query parameters.
func (c *Client) Build(ctx context.Context, name, dockerfile, contextDir string) (string, error) {
	q := url.Values{"t": {name}, "dockerfile": {dockerfile}}
	if contextDir != "" {
		q.Set("context", contextDir)
	}
	var resp struct {
		Message string `json:"message"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/build", q, nil, &resp)
	return resp.Message, err
}

// Logs fetches a container's log output; follow requests live tailing.
func (c *Client) Logs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	u := c.BaseURL + "/containers/" + id + "/logs"
	if follow {
		u += "?follow=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Exec issues POST /containers/{id}/exec and returns the command's combined output.
func (c *Client) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	u := c.BaseURL + "/containers/" + id + "/exec"
	data, err := json.Marshal(map[string]any{"Cmd": cmd})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return string(body), err
}

// Commit issues POST /containers/{id}/commit.
func (c *Client) Commit(ctx context.Context, id, image, tag, message string) (string, error) {
	var resp struct {
		Id string `json:"Id"`
	}
	body := map[string]string{"Image": image, "Tag": tag, "Message": message}
	err := c.doRequest(ctx, http.MethodPost, "/containers/"+id+"/commit", nil, body, &resp)
	return resp.Id, err
}
