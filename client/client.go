package client

import (
	"bytes"
	"encoding/json"
	stderr "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"inveni/shared/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// APIError is a non-2xx reply decoded from the server's error body.
type APIError struct {
	Status int
	types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.Status)
	}
	return e.Message
}

func hasType(err error, t string) bool {
	var apiErr *APIError
	return stderr.As(err, &apiErr) && apiErr.Type == t
}

// IsNoChanges reports whether a commit was refused because the content
// matches the latest version.
func IsNoChanges(err error) bool { return hasType(err, "NO_CHANGES") }

func IsNotFound(err error) bool { return hasType(err, "NOT_FOUND") }

func IsLocked(err error) bool { return hasType(err, "LOCKED") }

func (c *Client) url(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(method, path string, q url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url(path, q), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &apiErr.ErrorResponse); err != nil {
		apiErr.Message = fmt.Sprintf("unexpected status: %s", resp.Status)
	}
	return apiErr
}

func (c *Client) Health() error {
	var h types.Health
	return c.do(http.MethodGet, "/health", nil, nil, &h)
}

func (c *Client) Watch(path string) error {
	return c.do(http.MethodPost, "/api/watch", nil, types.PathRequest{Path: path}, nil)
}

func (c *Client) Unwatch(path string) error {
	return c.do(http.MethodPost, "/api/unwatch", nil, types.PathRequest{Path: path}, nil)
}

func (c *Client) Reset(path string) error {
	return c.do(http.MethodPost, "/api/reset", nil, types.PathRequest{Path: path}, nil)
}

func (c *Client) Pause() (*types.Status, error) {
	var s types.Status
	if err := c.do(http.MethodPost, "/api/pause", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Resume() (*types.Status, error) {
	var s types.Status
	if err := c.do(http.MethodPost, "/api/resume", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Status() (*types.Status, error) {
	var s types.Status
	if err := c.do(http.MethodGet, "/api/status", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) FileStatus(path string) (*types.FileStatus, error) {
	var fs types.FileStatus
	if err := c.do(http.MethodGet, "/api/status", url.Values{"path": {path}}, nil, &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (c *Client) SetRestoring(path string, restoring bool) error {
	return c.do(http.MethodPost, "/api/restoring", nil, types.RestoringRequest{Path: path, Restoring: restoring}, nil)
}

// ClearPending forgets every reported change.
func (c *Client) ClearPending() (*types.Status, error) {
	var s types.Status
	if err := c.do(http.MethodPost, "/api/pending/clear", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ClearCache() error {
	return c.do(http.MethodPost, "/api/cache/clear", nil, nil, nil)
}

func (c *Client) Blobs(path string) ([]types.Blob, error) {
	var blobs []types.Blob
	if err := c.do(http.MethodGet, "/api/blobs", url.Values{"path": {path}}, nil, &blobs); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (c *Client) Tracked() ([]string, error) {
	var paths []string
	if err := c.do(http.MethodGet, "/api/tracked", nil, nil, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *Client) Commit(path, message string, force bool) (*types.CommitResponse, error) {
	var res types.CommitResponse
	req := types.CommitRequest{Path: path, Message: message, Force: force}
	if err := c.do(http.MethodPost, "/api/commit", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Restore(path, hash string) error {
	return c.do(http.MethodPost, "/api/restore", nil, types.RestoreRequest{Path: path, Hash: hash}, nil)
}

func (c *Client) History(path string) ([]types.Version, error) {
	var versions []types.Version
	if err := c.do(http.MethodGet, "/api/history", url.Values{"path": {path}}, nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *Client) Content(path, hash string) ([]byte, error) {
	var data []byte
	q := url.Values{"path": {path}, "hash": {hash}}
	if err := c.do(http.MethodGet, "/api/content", q, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) Exists(path, hash string) (bool, error) {
	var res types.ExistsResponse
	q := url.Values{"path": {path}, "hash": {hash}}
	if err := c.do(http.MethodGet, "/api/exists", q, nil, &res); err != nil {
		return false, err
	}
	return res.Exists, nil
}

// Diff compares version from with version to, or with the file on disk when
// to is empty.
func (c *Client) Diff(path, from, to string) (*types.Diff, error) {
	q := url.Values{"path": {path}, "from": {from}}
	if to != "" {
		q.Set("to", to)
	}
	var d types.Diff
	if err := c.do(http.MethodGet, "/api/diff", q, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Journal(path string, limit int) ([]types.JournalEntry, error) {
	q := url.Values{}
	if path != "" {
		q.Set("path", path)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var entries []types.JournalEntry
	if err := c.do(http.MethodGet, "/api/journal", q, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
