package core_test

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"pastebin/internal/container"
	"pastebin/internal/core"
	"pastebin/internal/pasteid"

	"github.com/stretchr/testify/require"
)

const testSecret = "test deployment secret"

// NewTestServer creates a Server backed by a temporary data directory and
// returns it along with an httptest.Server wrapping its handler.
func NewTestServer(t *testing.T, opts ...core.ConfigOption) (*core.Server, *httptest.Server) {
	t.Helper()

	base := t.TempDir()
	defaults := []core.ConfigOption{
		core.WithDataDir(filepath.Join(base, "upload")),
		core.WithStagingDir(filepath.Join(base, "staging")),
		core.WithSecret(container.Secret(testSecret)),
	}

	srv, err := core.NewServer(core.NewConfig(append(defaults, opts...)...))
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

type RequestOption func(*http.Request)

func WithContentType(contentType string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
	}
}

func WithContent(body []byte) func(*http.Request) {
	return func(req *http.Request) {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
}

// WithChunkedContent sends body without a Content-Length.
func WithChunkedContent(body []byte) func(*http.Request) {
	return func(req *http.Request) {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = -1
	}
}

func DoMethod(t *testing.T, method string, url string, opts ...RequestOption) *http.Response {
	t.Helper()
	client := http.DefaultClient
	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	require.NoError(t, err, "creating "+method+" request")
	for _, opt := range opts {
		opt(req)
	}
	resp, err := client.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	return resp
}

func DoPost(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodPost, url, opts...)
}

func DoGet(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodGet, url, opts...)
}

func DoDelete(t *testing.T, url string, opts ...RequestOption) *http.Response {
	return DoMethod(t, http.MethodDelete, url, opts...)
}

func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading response body")
	return string(body)
}

// Upload posts body to route and returns the id of the created paste.
func Upload(t *testing.T, url string, body []byte) string {
	t.Helper()
	resp := DoPost(t, url, WithContent(body))
	link := strings.TrimSpace(ReadBody(t, resp))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "upload status")
	require.Equal(t, link, resp.Header.Get("Location"))
	return path.Base(link)
}

func TestUploadRetrieveDelete(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	id := Upload(t, httpSrv.URL+"/", []byte("hello"))
	_, err := pasteid.Parse(id, 4)
	require.NoError(t, err, "expected a 4 character id from the alphabet, got %q", id)

	stored, err := os.ReadFile(filepath.Join(srv.Config.DataDir, id))
	require.NoError(t, err, "paste should be stored under its id")
	require.Equal(t, "hello", string(stored))

	resp := DoGet(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "hello", ReadBody(t, resp))

	resp = DoDelete(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, ReadBody(t, resp))

	resp = DoGet(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, ReadBody(t, resp))

	resp = DoDelete(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, ReadBody(t, resp))
}

func TestUploadReturnsAbsoluteURL(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, core.WithBaseURL("https://paste.example.com/"), core.WithIDLength(3))

	resp := DoPost(t, httpSrv.URL+"/", WithContent([]byte("x")))
	link := strings.TrimSpace(ReadBody(t, resp))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, strings.HasPrefix(link, "https://paste.example.com/"), "unexpected link %q", link)
	require.Len(t, strings.TrimPrefix(link, "https://paste.example.com/"), 3)
}

func TestUploadBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	id := Upload(t, httpSrv.URL+"/", payload)

	resp := DoGet(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, fmt.Sprint(len(payload)), resp.Header.Get("Content-Length"))
	require.Equal(t, string(payload), ReadBody(t, resp))
}

func TestUploadEmptyBody(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	id := Upload(t, httpSrv.URL+"/", nil)

	resp := DoGet(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, ReadBody(t, resp))
}

func TestRetrieveContentType(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	htmlID := Upload(t, httpSrv.URL+"/", []byte("<!DOCTYPE html><html><body>hi</body></html>"))
	pngID := Upload(t, httpSrv.URL+"/", []byte("\x89PNG\x0D\x0A\x1A\x0A rest of image"))
	binID := Upload(t, httpSrv.URL+"/", []byte{0x00, 0x01, 0x02, 0x03, 0xfe})

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "sniffed html", url: "/" + htmlID, want: "text/html; charset=utf-8"},
		{name: "sniffed png", url: "/" + pngID, want: "image/png"},
		{name: "unknown falls back to text", url: "/" + binID, want: "text/plain; charset=utf-8"},
		{name: "override", url: "/" + htmlID + "?mime_type=application/json", want: "application/json"},
		{name: "invalid override", url: "/" + pngID + "?mime_type=not%20a%20type", want: "text/plain; charset=utf-8"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := DoGet(t, httpSrv.URL+tc.url)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, tc.want, resp.Header.Get("Content-Type"))
		})
	}
}

func TestRetrieveInvalidIDs(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	// A file outside the alphabet must never be reachable.
	require.NoError(t, os.WriteFile(filepath.Join(srv.Config.DataDir, "a.bc"), []byte("hidden"), 0o644))

	for _, id := range []string{"abc", "abcde", "a.bc", "....", "ab%2Fc", "%2e%2e%2Fa"} {
		resp := DoGet(t, httpSrv.URL+"/"+id)
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "GET /%s", id)
		require.Empty(t, ReadBody(t, resp))

		resp = DoDelete(t, httpSrv.URL+"/"+id)
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "DELETE /%s", id)
		resp.Body.Close()
	}

	_, err := os.Stat(filepath.Join(srv.Config.DataDir, "a.bc"))
	require.NoError(t, err)
}

func TestUploadSizeLimit(t *testing.T) {
	t.Parallel()

	const limit = 1024
	srv, httpSrv := NewTestServer(t, core.WithMaxUploadSize(limit))

	id := Upload(t, httpSrv.URL+"/", bytes.Repeat([]byte("a"), limit))
	require.NotEmpty(t, id)

	tests := []struct {
		name string
		opt  RequestOption
	}{
		{name: "content length", opt: WithContent(bytes.Repeat([]byte("a"), limit+1))},
		{name: "chunked", opt: WithChunkedContent(bytes.Repeat([]byte("a"), limit+1))},
	}

	for _, tc := range tests {
		resp := DoPost(t, httpSrv.URL+"/", tc.opt)
		require.Equalf(t, http.StatusRequestEntityTooLarge, resp.StatusCode, tc.name)
		resp.Body.Close()
	}

	entries, err := os.ReadDir(srv.Config.DataDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "rejected uploads must not be stored")
}

func TestEncryptedUpload(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)

	id := Upload(t, httpSrv.URL+"/encrypted", []byte("hello"))

	stored, err := os.ReadFile(filepath.Join(srv.Config.DataDir, id))
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(stored), int64(len(stored)))
	require.NoError(t, err, "stored blob should be a zip archive")
	require.Len(t, zr.File, 1)
	require.Equal(t, container.EntryName, zr.File[0].Name)

	raw, err := container.Open(stored, container.Secret(testSecret))
	require.NoError(t, err)
	require.Equal(t, "hello", string(raw))

	_, err = container.Open(stored, container.Secret("some other secret"))
	require.ErrorIs(t, err, container.ErrBadSecretOrCorrupt)

	// Retrieval hands back the container untouched.
	resp := DoGet(t, httpSrv.URL+"/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	require.Equal(t, string(stored), ReadBody(t, resp))
}

func TestEncryptedUploadSizeLimit(t *testing.T) {
	t.Parallel()

	const limit = 256
	srv, httpSrv := NewTestServer(t, core.WithMaxUploadSize(limit))

	// The container is larger than the raw body; only the body counts.
	Upload(t, httpSrv.URL+"/encrypted", bytes.Repeat([]byte{0xa5}, limit))

	for _, opt := range []RequestOption{
		WithContent(bytes.Repeat([]byte("a"), limit+1)),
		WithChunkedContent(bytes.Repeat([]byte("a"), limit+1)),
	} {
		resp := DoPost(t, httpSrv.URL+"/encrypted", opt)
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		resp.Body.Close()
	}

	entries, err := os.ReadDir(srv.Config.DataDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestEncryptedUploadDisabledWithoutSecret(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t, core.WithSecret(nil))

	resp := DoPost(t, httpSrv.URL+"/encrypted", WithContent([]byte("hello")))
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()

	entries, err := os.ReadDir(srv.Config.DataDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func multipartBody(t *testing.T, field string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFormUpload(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("from the browser"))
	resp := DoPost(t, httpSrv.URL+"/upload", WithContent(body.Bytes()), WithContentType(contentType))
	link := strings.TrimSpace(ReadBody(t, resp))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = DoGet(t, httpSrv.URL+"/"+path.Base(link))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "from the browser", ReadBody(t, resp))
}

func TestFormUploadErrors(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t, core.WithMaxUploadSize(64))

	body, contentType := multipartBody(t, "other", "notes.txt", []byte("wrong field"))
	resp := DoPost(t, httpSrv.URL+"/upload", WithContent(body.Bytes()), WithContentType(contentType))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = DoPost(t, httpSrv.URL+"/upload", WithContent([]byte("not multipart")), WithContentType("text/plain"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	body, contentType = multipartBody(t, "file", "big.bin", bytes.Repeat([]byte("b"), 65))
	resp = DoPost(t, httpSrv.URL+"/upload", WithContent(body.Bytes()), WithContentType(contentType))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()

	entries, err := os.ReadDir(srv.Config.DataDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPages(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, core.WithBaseURL("https://paste.example.com"))

	resp := DoGet(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Contains(t, ReadBody(t, resp), "curl --data-binary @file.txt https://paste.example.com")

	resp = DoGet(t, httpSrv.URL+"/upload")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, ReadBody(t, resp), `name="file"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t, core.WithIDLength(8))

	// A file that was there before the service saw any uploads.
	require.NoError(t, os.WriteFile(filepath.Join(srv.Config.DataDir, "existing"), make([]byte, 10), 0o644))

	for _, size := range []int{5, 100, 1000} {
		Upload(t, httpSrv.URL+"/", bytes.Repeat([]byte("m"), size))
	}

	resp := DoGet(t, httpSrv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := ReadBody(t, resp)
	require.Contains(t, body, "pastebin_stored_item_count 4")
	require.Contains(t, body, "pastebin_total_stored_bytes 1115")
	require.Contains(t, body, `pastebin_http_requests_total{method="POST",route="POST /{$}",status="201"} 3`)
}

func TestMetricsEndpointUnreadableRoot(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t)
	require.NoError(t, os.RemoveAll(srv.Config.DataDir))

	resp := DoGet(t, httpSrv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode, "scrapes must not fail when storage is unreadable")
	body := ReadBody(t, resp)
	require.Contains(t, body, "pastebin_stored_item_count -1")
	require.Contains(t, body, "pastebin_total_stored_bytes -1")
}

// With one character ids there are only 62 distinct keys, so uploads collide
// and silently replace each other. This is the accepted behaviour.
func TestCollidingIDsOverwrite(t *testing.T) {
	t.Parallel()

	srv, httpSrv := NewTestServer(t, core.WithIDLength(1))

	const uploads = 300
	last := map[string]string{}
	for i := range uploads {
		content := fmt.Sprintf("paste %d", i)
		id := Upload(t, httpSrv.URL+"/", []byte(content))
		last[id] = content
	}

	entries, err := os.ReadDir(srv.Config.DataDir)
	require.NoError(t, err)
	require.Less(t, len(entries), uploads)
	require.LessOrEqual(t, len(entries), len(pasteid.Alphabet))
	require.Len(t, entries, len(last))

	for id, content := range last {
		resp := DoGet(t, httpSrv.URL+"/"+id)
		require.Equal(t, content, ReadBody(t, resp), "latest upload wins for %s", id)
	}
}

func TestNewServerInvalidConfig(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()

	tests := []struct {
		name string
		cfg  core.Config
	}{
		{name: "empty data dir", cfg: core.NewConfig(core.WithDataDir(""))},
		{name: "zero id length", cfg: core.NewConfig(core.WithDataDir(dataDir), core.WithIDLength(0))},
		{name: "relative base url", cfg: core.NewConfig(core.WithDataDir(dataDir), core.WithBaseURL("paste.example.com"))},
		{name: "unparsable base url", cfg: core.NewConfig(core.WithDataDir(dataDir), core.WithBaseURL("http://[::1"))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := core.NewServer(tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestNewServerCreatesDataDir(t *testing.T) {
	t.Parallel()

	dataDir := filepath.Join(t.TempDir(), "nested", "upload")
	_, err := core.NewServer(core.NewConfig(core.WithDataDir(dataDir)))
	require.NoError(t, err)

	info, err := os.Stat(dataDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := core.NewConfig()
	require.Equal(t, core.DefaultDataDir, cfg.DataDir)
	require.Equal(t, core.DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, pasteid.DefaultLength, cfg.IDLength)
	require.Equal(t, int64(core.DefaultMaxUploadSize), cfg.MaxUploadSize)
	require.Empty(t, cfg.Secret)
}

func TestResolveContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		override string
		head     []byte
		want     string
	}{
		{name: "plain text", head: []byte("hello"), want: "text/plain; charset=utf-8"},
		{name: "empty", head: nil, want: "text/plain; charset=utf-8"},
		{name: "gif", head: []byte("GIF89a..."), want: "image/gif"},
		{name: "unknown binary", head: []byte{0x00, 0xff, 0x10}, want: "text/plain; charset=utf-8"},
		{name: "override wins", override: "image/svg+xml", head: []byte("GIF89a"), want: "image/svg+xml"},
		{name: "override with params", override: "text/csv; charset=utf-8", head: nil, want: "text/csv; charset=utf-8"},
		{name: "bad override", override: "///", head: []byte("GIF89a"), want: "text/plain; charset=utf-8"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, core.ResolveContentType(tc.override, tc.head))
		})
	}
}
