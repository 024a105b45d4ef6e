package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
)

// agent wraps an *http.Client the way original_source/fechter/client.py's
// Agent wraps httplib.HTTPConnection: a thin request/response helper with
// an optional wire dump to stderr.
type agent struct {
	baseURL string
	dump    bool
	client  *http.Client
}

func newAgent(host string, port int, dump bool) *agent {
	return &agent{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		dump:    dump,
		client:  &http.Client{},
	}
}

// interact sends method to path with an optional text/plain body and
// returns the response body and status code.
func (a *agent) interact(method, path string, body string) ([]byte, int, error) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, a.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}

	if a.dump {
		if dumped, err := httputil.DumpRequestOut(req, body != ""); err == nil {
			fmt.Fprintf(os.Stderr, "C: %s\n", dumped)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if a.dump {
		if dumped, err := httputil.DumpResponse(resp, true); err == nil {
			fmt.Fprintf(os.Stderr, "S: %s\n", dumped)
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// addAddress issues the add-address POST /resource request.
func (a *agent) addAddress(value string) ([]byte, error) {
	body, status, err := a.interact(http.MethodPost, "/resource", value)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("add-address failed: server returned %d: %s", status, body)
	}
	return body, nil
}

// setStatus issues a POST /status request with "up" or "down".
func (a *agent) setStatus(word string) error {
	_, status, err := a.interact(http.MethodPost, "/status", word)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("set status %q failed: server returned %d", word, status)
	}
	return nil
}

// resources issues GET /resource.
func (a *agent) resources() ([]byte, error) {
	body, status, err := a.interact(http.MethodGet, "/resource", "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GET /resource failed: server returned %d", status)
	}
	return body, nil
}

// info issues GET /info.
func (a *agent) info() ([]byte, error) {
	body, status, err := a.interact(http.MethodGet, "/info", "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GET /info failed: server returned %d", status)
	}
	return body, nil
}
