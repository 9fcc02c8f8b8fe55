// Package testserver is an in-memory resumable upload server for tests. It speaks the tus 1.0
// and the interop draft 5 dialects and can be told to misbehave.
package testserver

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Dialects understood by the server.
const (
	Stable       = "stable"
	InteropDraft = "interop-draft"
)

const (
	basePath      = "/files/"
	tusVersion    = "1.0.0"
	interopVer    = "5"
	offsetStream  = "application/offset+octet-stream"
	completeTrue  = "?1"
	completeFalse = "?0"
)

// Behavior alters the server's responses. The zero value is a conforming server.
type Behavior struct {
	// CreateStatus, AppendStatus and QueryStatus replace the success status when non-zero.
	CreateStatus int
	AppendStatus int
	QueryStatus  int

	// AppendOffset rewrites the Upload-Offset reported after an append. committed is what the
	// server stored, claimed is the previous offset plus the received body length.
	AppendOffset func(committed, claimed int64) string

	// AcceptBytes limits how many bytes of an append body are stored.
	AcceptBytes func(received int64) int64

	// AbsoluteLocation makes creation return an absolute URL instead of a path.
	AbsoluteLocation bool

	// OmitLocation drops the Location header from creation responses.
	OmitLocation bool

	// OmitVersion drops Tus-Resumable from stable dialect responses.
	OmitVersion bool

	// Delay is slept before every response.
	Delay time.Duration
}

// Request is a record of one handled request.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	BodyLen int
}

type upload struct {
	length   int64
	data     []byte
	complete bool
}

// Server is a running test server.
type Server struct {
	*httptest.Server

	dialect string

	mu       sync.Mutex
	behavior Behavior
	uploads  map[string]*upload
	nextID   int
	requests []Request
}

// New starts a server speaking dialect.
func New(dialect string, behavior Behavior) *Server {
	s := &Server{
		dialect:  dialect,
		behavior: behavior,
		uploads:  map[string]*upload{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the creation endpoint URL.
func (s *Server) Endpoint() string {
	return s.URL + basePath
}

// SetBehavior replaces the behavior for subsequent requests.
func (s *Server) SetBehavior(behavior Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = behavior
}

// Requests returns the handled requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// CountRequests returns the number of handled requests with the given method.
func (s *Server) CountRequests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Uploads returns the number of created uploads.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// CompletedUploads returns the number of uploads holding all of their bytes.
func (s *Server) CompletedUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.uploads {
		if u.isComplete() {
			n++
		}
	}
	return n
}

// Offset returns the stored length of the upload behind an upload URL.
func (s *Server) Offset(uploadURL string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := strings.LastIndex(uploadURL, basePath)
	if idx < 0 {
		return 0, false
	}
	u, ok := s.uploads[uploadURL[idx+len(basePath):]]
	if !ok {
		return 0, false
	}
	return int64(len(u.data)), true
}

func (u *upload) isComplete() bool {
	if u.length >= 0 {
		return int64(len(u.data)) == u.length
	}
	return u.complete
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Header:  r.Header.Clone(),
		BodyLen: len(body),
	})

	if s.behavior.Delay > 0 {
		s.mu.Unlock()
		select {
		case <-time.After(s.behavior.Delay):
		case <-r.Context().Done():
		}
		s.mu.Lock()
	}

	if !s.versionOK(r.Header) {
		if s.dialect == Stable {
			w.Header().Set("Tus-Version", tusVersion)
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		http.Error(w, "unsupported interop version", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == basePath:
		s.create(w, r, body)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, basePath):
		s.append(w, r, body)
	case r.Method == http.MethodHead && strings.HasPrefix(r.URL.Path, basePath):
		s.query(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) versionOK(h http.Header) bool {
	if s.dialect == Stable {
		return h.Get("Tus-Resumable") == tusVersion
	}
	return h.Get("Upload-Draft-Interop-Version") == interopVer
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, body []byte) {
	u := &upload{length: -1}

	if s.dialect == Stable {
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil || length < 0 {
			http.Error(w, "invalid Upload-Length", http.StatusBadRequest)
			return
		}
		if len(body) > 0 && r.Header.Get("Content-Type") != offsetStream {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if int64(len(body)) > length {
			http.Error(w, "body exceeds Upload-Length", http.StatusRequestEntityTooLarge)
			return
		}
		u.length = length
	} else {
		complete, ok := parseComplete(r.Header.Get("Upload-Complete"))
		if !ok {
			http.Error(w, "invalid Upload-Complete", http.StatusBadRequest)
			return
		}
		u.complete = complete
	}

	u.data = append(u.data, body...)

	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.uploads[id] = u

	if !s.behavior.OmitLocation {
		location := basePath + id
		if s.behavior.AbsoluteLocation {
			location = s.URL + location
		}
		w.Header().Set("Location", location)
	}
	w.Header().Set("Upload-Offset", strconv.Itoa(len(u.data)))
	s.writeStatus(w, s.behavior.CreateStatus, http.StatusCreated)
}

func (s *Server) append(w http.ResponseWriter, r *http.Request, body []byte) {
	u, ok := s.uploads[strings.TrimPrefix(r.URL.Path, basePath)]
	if !ok {
		http.NotFound(w, r)
		return
	}

	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		http.Error(w, "invalid Upload-Offset", http.StatusBadRequest)
		return
	}
	if offset != int64(len(u.data)) {
		w.Header().Set("Upload-Offset", strconv.Itoa(len(u.data)))
		s.writeStatus(w, 0, http.StatusConflict)
		return
	}

	var complete bool
	if s.dialect == Stable {
		if r.Header.Get("Content-Type") != offsetStream {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if offset+int64(len(body)) > u.length {
			http.Error(w, "body exceeds Upload-Length", http.StatusRequestEntityTooLarge)
			return
		}
	} else {
		if u.complete {
			http.Error(w, "upload already completed", http.StatusBadRequest)
			return
		}
		complete, ok = parseComplete(r.Header.Get("Upload-Complete"))
		if !ok {
			http.Error(w, "invalid Upload-Complete", http.StatusBadRequest)
			return
		}
	}

	accepted := int64(len(body))
	if s.behavior.AcceptBytes != nil {
		accepted = min(s.behavior.AcceptBytes(accepted), accepted)
	}
	u.data = append(u.data, body[:accepted]...)
	u.complete = u.complete || complete

	reported := strconv.Itoa(len(u.data))
	if s.behavior.AppendOffset != nil {
		reported = s.behavior.AppendOffset(int64(len(u.data)), offset+int64(len(body)))
	}
	w.Header().Set("Upload-Offset", reported)
	s.writeStatus(w, s.behavior.AppendStatus, http.StatusNoContent)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	u, ok := s.uploads[strings.TrimPrefix(r.URL.Path, basePath)]
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Upload-Offset", strconv.Itoa(len(u.data)))
	w.Header().Set("Cache-Control", "no-store")
	if s.dialect == Stable {
		w.Header().Set("Upload-Length", strconv.FormatInt(u.length, 10))
	} else if u.complete {
		w.Header().Set("Upload-Complete", completeTrue)
	} else {
		w.Header().Set("Upload-Complete", completeFalse)
	}
	s.writeStatus(w, s.behavior.QueryStatus, http.StatusOK)
}

func (s *Server) writeStatus(w http.ResponseWriter, override, status int) {
	if s.dialect == Stable && !s.behavior.OmitVersion {
		w.Header().Set("Tus-Resumable", tusVersion)
	}
	if override != 0 {
		status = override
	}
	w.WriteHeader(status)
}

func parseComplete(v string) (bool, bool) {
	switch v {
	case completeTrue:
		return true, true
	case completeFalse:
		return false, true
	default:
		return false, false
	}
}

// String describes the server for test failure messages.
func (s *Server) String() string {
	return fmt.Sprintf("testserver(%s, %s)", s.dialect, s.URL)
}
