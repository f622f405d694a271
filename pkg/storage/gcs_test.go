package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGCS serves the subset of the GCS JSON and XML APIs the backend uses.
type fakeGCS struct {
	mu       sync.Mutex
	bucket   string
	exists   bool
	objects  map[string][]byte
	pageSize int
	// failDelete makes deleting the named object fail with a non-retryable error
	failDelete map[string]bool

	listCalls   int
	deleteCalls int
	created     string
	unexpected  []string
}

func newFakeGCS() *fakeGCS {
	return &fakeGCS{
		bucket:     "problems",
		exists:     true,
		objects:    map[string][]byte{},
		failDelete: map[string]bool{},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeGoogleError renders the error body googleapi.CheckResponse parses.
func writeGoogleError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]any{{"reason": reason, "message": reason}},
		},
	})
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	bucketPath := "/storage/v1/b/" + f.bucket
	switch {
	case r.Method == http.MethodPost && p == "/upload"+bucketPath+"/o":
		f.insert(w, r)
	case r.Method == http.MethodGet && p == bucketPath:
		if !f.exists {
			writeGoogleError(w, http.StatusNotFound, "notFound")
			return
		}
		writeJSON(w, map[string]any{"name": f.bucket})
	case r.Method == http.MethodPost && p == "/storage/v1/b":
		var b struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&b)
		f.created = b.Name + "@" + r.URL.Query().Get("project")
		f.exists = true
		writeJSON(w, map[string]any{"name": b.Name})
	case r.Method == http.MethodGet && p == bucketPath+"/o":
		f.list(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(p, bucketPath+"/o/"):
		f.delete(w, strings.TrimPrefix(p, bucketPath+"/o/"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/"+f.bucket+"/"):
		f.read(w, strings.TrimPrefix(p, "/"+f.bucket+"/"))
	default:
		f.unexpected = append(f.unexpected, r.Method+" "+p)
		writeGoogleError(w, http.StatusBadRequest, "unexpected")
	}
}

func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeGoogleError(w, http.StatusBadRequest, "badContentType")
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	meta, err := mr.NextPart()
	if err != nil {
		writeGoogleError(w, http.StatusBadRequest, "noMetadata")
		return
	}
	var obj struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(meta).Decode(&obj)
	name := r.URL.Query().Get("name")
	if name == "" {
		name = obj.Name
	}
	media, err := mr.NextPart()
	if err != nil {
		writeGoogleError(w, http.StatusBadRequest, "noMedia")
		return
	}
	data, err := io.ReadAll(media)
	if err != nil {
		writeGoogleError(w, http.StatusBadRequest, "badMedia")
		return
	}
	f.objects[name] = data
	writeJSON(w, map[string]any{"bucket": f.bucket, "name": name, "size": strconv.Itoa(len(data))})
}

// list pages by name; the page token is the first name of the next page.
func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	f.listCalls++
	q := r.URL.Query()
	prefix, token := q.Get("prefix"), q.Get("pageToken")

	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) && name >= token {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	size := f.pageSize
	if m, _ := strconv.Atoi(q.Get("maxResults")); m > 0 && (size == 0 || m < size) {
		size = m
	}
	items := []map[string]any{}
	resp := map[string]any{"kind": "storage#objects"}
	for i, name := range names {
		if size > 0 && i == size {
			resp["nextPageToken"] = name
			break
		}
		items = append(items, map[string]any{"name": name, "bucket": f.bucket})
	}
	resp["items"] = items
	writeJSON(w, resp)
}

func (f *fakeGCS) delete(w http.ResponseWriter, name string) {
	f.deleteCalls++
	if f.failDelete[name] {
		writeGoogleError(w, http.StatusBadRequest, "invalid")
		return
	}
	if _, ok := f.objects[name]; !ok {
		writeGoogleError(w, http.StatusNotFound, "notFound")
		return
	}
	delete(f.objects, name)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeGCS) read(w http.ResponseWriter, name string) {
	data, ok := f.objects[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (f *fakeGCS) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newGCSClient(t *testing.T, fake *fakeGCS) *gcs.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	client, err := gcs.NewClient(context.Background())
	require.NoError(t, err)
	return client
}

func newTestGCS(t *testing.T, fake *fakeGCS, prefix string, concurrency int) (Backend, Reader) {
	t.Helper()
	s, err := NewGCS(context.Background(), &GCSStorageOpts{
		Client:      newGCSClient(t, fake),
		Bucket:      fake.bucket,
		Prefix:      prefix,
		Concurrency: concurrency,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.(io.Closer).Close()
		assert.Empty(t, fake.unexpected)
	})
	return s, s.(Reader)
}

func TestGCSStorage_PutAndGet(t *testing.T) {
	fake := newFakeGCS()
	s, r := newTestGCS(t, fake, "", 4)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "/test_cases//101/01", []byte("input")))
	require.NoError(t, s.Put(ctx, "test_cases/101/01", []byte("input v2")))
	require.NoError(t, s.Put(ctx, "test_cases/101/empty", nil))

	assert.Equal(t, []string{"test_cases/101/01", "test_cases/101/empty"}, fake.names())

	got, err := r.Get(ctx, "test_cases/101/01")
	require.NoError(t, err)
	assert.Equal(t, "input v2", string(got))

	got, err = r.Get(ctx, "test_cases/101/empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGCSStorage_GetMissing(t *testing.T) {
	_, r := newTestGCS(t, newFakeGCS(), "", 4)

	_, err := r.Get(context.Background(), "no/such")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGCSStorage_KeyPrefix(t *testing.T) {
	fake := newFakeGCS()
	s, r := newTestGCS(t, fake, "/tenant-a/", 4)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/1", []byte("1")))
	assert.Equal(t, []string{"tenant-a/a/1"}, fake.names())

	got, err := r.Get(ctx, "a/1")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	require.NoError(t, s.DeletePrefix(ctx, "a"))
	assert.Empty(t, fake.names())
}

func TestGCSStorage_DeletePrefixIsSegmentAligned(t *testing.T) {
	fake := newFakeGCS()
	s, _ := newTestGCS(t, fake, "", 4)
	ctx := context.Background()

	for _, k := range []string{"a/b", "a/b/1", "a/b/c/2", "a/bc/3", "a/b.txt"} {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}

	require.NoError(t, s.DeletePrefix(ctx, "a/b/"))

	assert.Equal(t, []string{"a/b.txt", "a/bc/3"}, fake.names())
}

func TestGCSStorage_DeletePrefixPaginates(t *testing.T) {
	fake := newFakeGCS()
	fake.pageSize = 7
	s, _ := newTestGCS(t, fake, "", 4)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("bulk/%03d", i), []byte("x")))
	}
	require.NoError(t, s.Put(ctx, "bulkier/keep", []byte("x")))

	require.NoError(t, s.DeletePrefix(ctx, "bulk"))

	assert.Equal(t, []string{"bulkier/keep"}, fake.names())
	assert.Equal(t, 4, fake.listCalls)
	assert.Equal(t, 25, fake.deleteCalls)
}

func TestGCSStorage_DeletePrefixAbortsOnFailure(t *testing.T) {
	fake := newFakeGCS()
	s, _ := newTestGCS(t, fake, "", 1)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("bulk/%03d", i), []byte("x")))
	}
	fake.failDelete["bulk/010"] = true

	err := s.DeletePrefix(ctx, "bulk")
	require.ErrorIs(t, err, ErrTransient)

	left := fake.names()
	assert.Len(t, left, 20)
	assert.Equal(t, "bulk/010", left[0])
	assert.Equal(t, 11, fake.deleteCalls)
}

func TestGCSStorage_DeleteMissingPrefix(t *testing.T) {
	fake := newFakeGCS()
	s, _ := newTestGCS(t, fake, "", 4)

	require.NoError(t, s.DeletePrefix(context.Background(), "nothing/here"))
	assert.Equal(t, 1, fake.listCalls)
	assert.Equal(t, 0, fake.deleteCalls)
}

func TestGCSStorage_InvalidPaths(t *testing.T) {
	fake := newFakeGCS()
	s, _ := newTestGCS(t, fake, "", 4)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "//", []byte("x")), ErrInvalidPath)
	assert.ErrorIs(t, s.DeletePrefix(ctx, ""), ErrInvalidPath)
	assert.Equal(t, 0, fake.listCalls)
}

func TestNewGCS_MissingBucket(t *testing.T) {
	fake := newFakeGCS()
	fake.exists = false
	client := newGCSClient(t, fake)

	_, err := NewGCS(context.Background(), &GCSStorageOpts{Client: client, Bucket: fake.bucket, Logger: discardLogger()})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewGCS(context.Background(), &GCSStorageOpts{
		Client: client, Bucket: fake.bucket, CreateBucket: true, Logger: discardLogger(),
	})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	s, err := NewGCS(context.Background(), &GCSStorageOpts{
		Client: client, Bucket: fake.bucket, CreateBucket: true, ProjectID: "polygon", Logger: discardLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "problems@polygon", fake.created)
}
