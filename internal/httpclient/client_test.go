package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(http.DefaultClient, Config{RetryAttempts: 2})
	require.NoError(t, err)
	return c
}

func TestSizeAndAccessible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("xyz"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	ctx := context.Background()
	size, err := c.Size(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	ok, _, err := c.Accessible(ctx, srv.URL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccessibleReturnsBodyOnForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("signature expired"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	ok, body, err := c.Accessible(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, body, "signature expired")
}

func TestNameFromContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
		w.Header().Set("Content-Length", "0")
	}))
	defer srv.Close()

	c := newTestClient(t)
	name, err := c.Name(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "report.csv", name)
}

func TestNameFallsBackToURLPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
	}))
	defer srv.Close()

	c := newTestClient(t)
	name, err := c.Name(context.Background(), srv.URL+"/path/to/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, "blob.bin", name)
}

func TestChecksumsPrecedenceAndParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.Header().Set("x-goog-hash", "crc32c=n03x6A==,md5=rL0Y20zC+Fzt72VPzMSk2A==")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Server", "AmazonS3")
	}))
	defer srv.Close()

	c := newTestClient(t)
	sums, err := c.Checksums(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "n03x6A==", sums["gs_crc32c"])
	assert.Equal(t, "rL0Y20zC+Fzt72VPzMSk2A==", sums["gs_md5"])
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", sums["s3_etag"])
	_, hasPlainEtag := sums["etag"]
	assert.False(t, hasPlainEtag)
}

func TestRangeReadIntoRetriesShortBody(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Length", "4")
		if attempts < 2 {
			w.Write([]byte("ab")) // short body under 200
			return
		}
		w.Write([]byte("abcd"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	dst := make([]byte, 4)
	err := c.RangeReadInto(context.Background(), srv.URL, 0, 4, dst)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(dst))
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestRetryOnTransientStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("ok!"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	size, err := c.Size(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}
