package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Filer stores objects on an HTTP file server that supports PUT/GET/HEAD/
// DELETE per key and JSON directory listings (a SeaweedFS filer, or any
// WebDAV-ish server with the same surface). All failures to reach the
// server map to ErrUnavailable; only a clean 404 maps to ErrNotFound.
type Filer struct {
	base  string
	token string
	http  *http.Client
}

// NewFiler verifies the server is reachable before returning. A connection
// error or an auth rejection at construction time is ErrUnavailable so the
// caller can fail over to local storage instead of starting blind.
func NewFiler(ctx context.Context, baseURL, token string, timeout time.Duration) (*Filer, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	f := &Filer{
		base:  strings.TrimSuffix(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}

	req, err := f.newRequest(ctx, http.MethodHead, "/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: filer %s unreachable: %v: %w", baseURL, err, ErrUnavailable)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("storage: filer %s rejected credentials (%d): %w", baseURL, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("storage: filer %s returned %d: %w", baseURL, resp.StatusCode, ErrUnavailable)
	}
	return f, nil
}

// Name implements Backend.
func (f *Filer) Name() string { return "filer" }

func (f *Filer) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("storage: building %s request: %w", method, err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	return req, nil
}

func keyPath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(parts, "/")
}

// Put implements Backend.
func (f *Filer) Put(ctx context.Context, key string, data []byte) error {
	req, err := f.newRequest(ctx, http.MethodPut, keyPath(key), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: put %s: %v: %w", key, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storage: put %s returned %d: %w", key, resp.StatusCode, ErrUnavailable)
	}
	return nil
}

// Get implements Backend.
func (f *Filer) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := f.newRequest(ctx, http.MethodGet, keyPath(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %v: %w", key, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("storage: %s: %w", key, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("storage: get %s returned %d: %w", key, resp.StatusCode, ErrUnavailable)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s body: %v: %w", key, err, ErrUnavailable)
	}
	return data, nil
}

// Exists implements Backend.
func (f *Filer) Exists(ctx context.Context, key string) (bool, error) {
	req, err := f.newRequest(ctx, http.MethodHead, keyPath(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("storage: head %s: %v: %w", key, err, ErrUnavailable)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("storage: head %s returned %d: %w", key, resp.StatusCode, ErrUnavailable)
	}
}

// Delete implements Backend. Deleting an absent key succeeds.
func (f *Filer) Delete(ctx context.Context, key string) error {
	req, err := f.newRequest(ctx, http.MethodDelete, keyPath(key), nil)
	if err != nil {
		return err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %v: %w", key, err, ErrUnavailable)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage: delete %s returned %d: %w", key, resp.StatusCode, ErrUnavailable)
	}
	return nil
}

// filerEntry is one row of a JSON directory listing.
type filerEntry struct {
	FullPath string `json:"FullPath"`
	Size     int64  `json:"FileSize"`
	IsDir    bool   `json:"IsDirectory"`
}

type filerListing struct {
	Entries []filerEntry `json:"Entries"`
}

// list walks one directory level and recurses into subdirectories.
func (f *Filer) list(ctx context.Context, dir string, visit func(filerEntry)) error {
	req, err := f.newRequest(ctx, http.MethodGet, dir, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: listing %s: %v: %w", dir, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("storage: listing %s returned %d: %w", dir, resp.StatusCode, ErrUnavailable)
	}
	var listing filerListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("storage: decoding listing %s: %v: %w", dir, err, ErrUnavailable)
	}
	for _, e := range listing.Entries {
		if e.IsDir {
			sub := "/" + strings.TrimPrefix(e.FullPath, "/") + "/"
			if err := f.list(ctx, strings.TrimSuffix(sub, "/")+"/", visit); err != nil {
				return err
			}
			continue
		}
		visit(e)
	}
	return nil
}

// List implements Backend.
func (f *Filer) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := f.list(ctx, "/", func(e filerEntry) {
		key := strings.TrimPrefix(e.FullPath, "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Size implements Backend.
func (f *Filer) Size(ctx context.Context, prefix string) (int, int64, error) {
	var count int
	var total int64
	err := f.list(ctx, "/", func(e filerEntry) {
		key := strings.TrimPrefix(e.FullPath, "/")
		if strings.HasPrefix(key, prefix) {
			count++
			total += e.Size
		}
	})
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}
