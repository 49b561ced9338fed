package minio

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	modTime     time.Time
}

// fakeServer speaks enough of the S3 REST dialect for the MinIO client:
// bucket HEAD/PUT, ListObjectsV2, and object PUT/GET/HEAD/DELETE.
type fakeServer struct {
	mu      sync.Mutex
	buckets map[string]map[string]*fakeObject

	puts    atomic.Int32
	deletes atomic.Int32
	// failDeletes makes every object DELETE answer 403.
	failDeletes atomic.Bool
}

// newFakeServer starts the fake and returns it with its host:port endpoint.
func newFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	f := &fakeServer{buckets: make(map[string]map[string]*fakeObject)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, strings.TrimPrefix(srv.URL, "http://")
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		f.serveBucket(w, r, bucket)
		return
	}
	f.serveObject(w, r, bucket, key)
}

func (f *fakeServer) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, ok := f.buckets[bucket]

	switch r.Method {
	case http.MethodHead:
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if ok {
			writeS3Error(w, http.StatusConflict, "BucketAlreadyOwnedByYou", bucket, "")
			return
		}
		f.buckets[bucket] = make(map[string]*fakeObject)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchBucket", bucket, "")
			return
		}
		writeListing(w, bucket, objs)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeServer) serveObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	var body []byte
	if r.Method == http.MethodPut {
		var err error
		if body, err = readPayload(r); err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody", bucket, key)
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	objs, ok := f.buckets[bucket]
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", bucket, key)
		return
	}

	switch r.Method {
	case http.MethodPut:
		f.puts.Add(1)
		sum := md5.Sum(body)
		obj := &fakeObject{
			data:        body,
			contentType: r.Header.Get("Content-Type"),
			etag:        hex.EncodeToString(sum[:]),
			modTime:     time.Now().UTC(),
		}
		objs[key] = obj
		w.Header().Set("ETag", `"`+obj.etag+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := objs[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", bucket, key)
			return
		}
		if match := r.Header.Get("If-Match"); match != "" && strings.Trim(match, `"`) != obj.etag {
			writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed", bucket, key)
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(obj.data)))
		h.Set("Content-Type", obj.contentType)
		h.Set("ETag", `"`+obj.etag+`"`)
		h.Set("Last-Modified", obj.modTime.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
	case http.MethodDelete:
		f.deletes.Add(1)
		if f.failDeletes.Load() {
			writeS3Error(w, http.StatusForbidden, "AccessDenied", bucket, key)
			return
		}
		delete(objs, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// drop removes an object behind the adapter's back.
func (f *fakeServer) drop(bucket, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets[bucket], key)
}

func (f *fakeServer) objectCount(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets[bucket])
}

func (f *fakeServer) hasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

// readPayload returns the object bytes of a PUT. Over plain HTTP the client
// signs each chunk and sends the body aws-chunked encoded.
func readPayload(r *http.Request) ([]byte, error) {
	if r.Header.Get("X-Amz-Decoded-Content-Length") == "" {
		return io.ReadAll(r.Body)
	}
	br := bufio.NewReader(r.Body)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bad chunk header %q: %w", line, err)
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, n); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

type s3Error struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	BucketName string   `xml:"BucketName,omitempty"`
	Key        string   `xml:"Key,omitempty"`
}

func writeS3Error(w http.ResponseWriter, status int, code, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: code, BucketName: bucket, Key: key})
}

type listEntry struct {
	Key          string    `xml:"Key"`
	LastModified time.Time `xml:"LastModified"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	StorageClass string    `xml:"StorageClass"`
}

type listResult struct {
	XMLName     xml.Name    `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string      `xml:"Name"`
	Prefix      string      `xml:"Prefix"`
	KeyCount    int         `xml:"KeyCount"`
	MaxKeys     int         `xml:"MaxKeys"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []listEntry `xml:"Contents"`
}

func writeListing(w http.ResponseWriter, bucket string, objs map[string]*fakeObject) {
	keys := make([]string, 0, len(objs))
	for k := range objs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := listResult{Name: bucket, KeyCount: len(keys), MaxKeys: 1000}
	for _, k := range keys {
		obj := objs[k]
		res.Contents = append(res.Contents, listEntry{
			Key:          k,
			LastModified: obj.modTime,
			ETag:         `"` + obj.etag + `"`,
			Size:         int64(len(obj.data)),
			StorageClass: "STANDARD",
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}
