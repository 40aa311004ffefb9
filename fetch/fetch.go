// Package fetch implements the network fallback for references that cannot
// be satisfied from the local index.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schemabind/schemabind/schemadoc"
)

const DefaultTimeout = 10 * time.Second

// FetchError reports a failed retrieval of an external schema.
type FetchError struct {
	URI    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URI, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches schema documents over HTTP(S).
type Client struct {
	HTTP *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) Fetch(ctx context.Context, uri string) (schemadoc.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	req.Header.Add("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, &FetchError{URI: uri, Status: res.StatusCode}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	doc, err := schemadoc.Parse(body)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	return doc, nil
}
