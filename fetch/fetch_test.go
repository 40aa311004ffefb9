package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFetchParsesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "http://x.y.z/widget", "type": "object"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	doc, err := c.Fetch(context.Background(), srv.URL)
	assert.Nil(t, err)
	assert.Equal(t, "object", doc["type"])
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Fetch(context.Background(), srv.URL)
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
}

func TestFetchRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Fetch(context.Background(), srv.URL)
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}
