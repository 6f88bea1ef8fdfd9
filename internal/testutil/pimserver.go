package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// FakeEvent is one event served by FakePIM.
type FakeEvent struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	ObjectID   string    `json:"object_id"`
	PayloadRef string    `json:"payload_ref,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// FakeModule is one module configuration served by FakePIM.
type FakeModule struct {
	ModuleName    string `json:"module_name"`
	ConnectorName string `json:"connector_name"`
	ObjectType    string `json:"object_type"`
}

// FakePIM is an in-process 4AllPortal server for tests.
//
// It implements login with a single user, module configuration lookup and
// the paged event stream. Failures can be injected per connector.
type FakePIM struct {
	Server *httptest.Server

	mu            sync.Mutex
	username      string
	password      string
	sessions      map[string]bool
	nextSession   int
	logins        int
	events        map[string][]FakeEvent
	modules       map[string]FakeModule
	failures      map[string]int
	eventRequests map[string]int
}

// NewFakePIM starts a server accepting username/password. It is closed when
// the test ends.
func NewFakePIM(t testing.TB, username, password string) *FakePIM {
	t.Helper()
	f := &FakePIM{
		username:      username,
		password:      password,
		sessions:      map[string]bool{},
		events:        map[string][]FakeEvent{},
		modules:       map[string]FakeModule{},
		failures:      map[string]int{},
		eventRequests: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/user/login", f.handleLogin)
	mux.HandleFunc("GET /rest/modules/{module}/config", f.authenticated(f.handleModuleConfig))
	mux.HandleFunc("GET /rest/events/{connector}", f.authenticated(f.handleEvents))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server root, usable as a server domain.
func (f *FakePIM) URL() string {
	return f.Server.URL
}

// AddModule registers a module configuration.
func (f *FakePIM) AddModule(m FakeModule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[m.ModuleName] = m
}

// AddEvents appends events to a connector's stream.
func (f *FakePIM) AddEvents(connector string, events ...FakeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connector] = append(f.events[connector], events...)
	sort.Slice(f.events[connector], func(i, j int) bool {
		return f.events[connector][i].ID < f.events[connector][j].ID
	})
}

// FailConnector makes event requests for connector answer with status.
// Zero clears the failure.
func (f *FakePIM) FailConnector(connector string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, connector)
		return
	}
	f.failures[connector] = status
}

// ExpireSessions invalidates every issued session id.
func (f *FakePIM) ExpireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = map[string]bool{}
}

// Logins returns the number of successful logins.
func (f *FakePIM) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// EventRequests returns how many event pages were served for connector.
func (f *FakePIM) EventRequests(connector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventRequests[connector]
}

func (f *FakePIM) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if req.Username != f.username || req.Password != f.password {
		f.mu.Unlock()
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	f.nextSession++
	f.logins++
	session := fmt.Sprintf("session-%d", f.nextSession)
	f.sessions[session] = true
	f.mu.Unlock()

	writeJSON(w, map[string]string{"session_id": session})
}

func (f *FakePIM) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := f.sessions[r.Header.Get("X-Session-Id")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *FakePIM) handleModuleConfig(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	m, ok := f.modules[r.PathValue("module")]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "unknown module", http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

func (f *FakePIM) handleEvents(w http.ResponseWriter, r *http.Request) {
	connector := r.PathValue("connector")
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	f.mu.Lock()
	f.eventRequests[connector]++
	if status, failing := f.failures[connector]; failing {
		f.mu.Unlock()
		http.Error(w, "connector failure", status)
		return
	}
	page := []FakeEvent{}
	for _, ev := range f.events[connector] {
		if ev.ID <= after {
			continue
		}
		page = append(page, ev)
		if limit > 0 && len(page) == limit {
			break
		}
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{"events": page})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
