// Package testutil provides an in-memory fake of the Endor Labs findings API
// for tests that exercise the client, the engine and the CLI end to end.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

// Fake credentials accepted by FakeEndor.
const (
	FakeAPIKey    = "test-key"
	FakeAPISecret = "test-secret"
	FakeToken     = "test-token"
	FakeTenant    = "acme"
)

// FakeFinding is a finding stored by FakeEndor.
type FakeFinding struct {
	UUID        string
	ProjectUUID string
	Namespace   string
	ContextType string // CONTEXT_TYPE_MAIN when empty
	ContextID   string
	Tags        []string
}

// Update records one PATCH received by FakeEndor.
type Update struct {
	Namespace  string
	UUID       string
	UpdateMask string
	Tags       []string
}

// FakeEndor serves the subset of the Endor Labs API used by retag.
type FakeEndor struct {
	Server *httptest.Server

	// PageSize splits list responses into pages when > 0.
	PageSize int

	// StuckPageToken, when set, is returned as next_page_token on every
	// finding list response, like a service that never advances its cursor.
	StuckPageToken string

	mu          sync.Mutex
	projects    map[string]string // project uuid -> namespace
	findings    []*FakeFinding
	failUpdates map[string]int // finding uuid -> status code
	failList    int
	authCalls   int
	listCalls   int
	updates     []Update
	requestIDs  []string
}

// NewFakeEndor starts a fake API server that is closed when the test ends.
func NewFakeEndor(t *testing.T) *FakeEndor {
	t.Helper()

	f := &FakeEndor{
		projects:    make(map[string]string),
		failUpdates: make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)

	return f
}

// URL is the API root to configure clients with.
func (f *FakeEndor) URL() string {
	return f.Server.URL + "/v1"
}

// AddProject registers a project living in namespace.
func (f *FakeEndor) AddProject(uuid, namespace string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[uuid] = namespace
}

// AddFinding stores a finding. Namespace defaults to the project's namespace.
func (f *FakeEndor) AddFinding(finding FakeFinding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if finding.Namespace == "" {
		finding.Namespace = f.projects[finding.ProjectUUID]
	}
	if finding.ContextType == "" {
		finding.ContextType = "CONTEXT_TYPE_MAIN"
	}
	finding.Tags = slices.Clone(finding.Tags)
	f.findings = append(f.findings, &finding)
}

// FailUpdate makes PATCH requests for the finding return status.
func (f *FakeEndor) FailUpdate(uuid string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates[uuid] = status
}

// FailList makes finding list requests return status.
func (f *FakeEndor) FailList(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failList = status
}

// Tags returns the current tags of a stored finding.
func (f *FakeEndor) Tags(uuid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range f.findings {
		if fd.UUID == uuid {
			return slices.Clone(fd.Tags)
		}
	}
	return nil
}

// Updates returns every PATCH received, including failed ones.
func (f *FakeEndor) Updates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.updates)
}

// AuthCalls returns how many times a token was requested.
func (f *FakeEndor) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

// ListCalls returns how many finding list pages were served or refused.
func (f *FakeEndor) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// RequestIDs returns the X-Request-ID header of every request.
func (f *FakeEndor) RequestIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requestIDs)
}

func (f *FakeEndor) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))

	path := strings.TrimPrefix(r.URL.Path, "/v1")
	if path == "/auth/api-key" && r.Method == http.MethodPost {
		f.handleAuth(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+FakeToken {
		http.Error(w, `{"message":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "namespaces" {
		http.NotFound(w, r)
		return
	}
	namespace, resource := parts[1], parts[2]

	switch {
	case resource == "projects" && r.Method == http.MethodGet:
		f.handleProjects(w, r, namespace)
	case resource == "findings" && r.Method == http.MethodGet:
		f.handleListFindings(w, r, namespace)
	case resource == "findings" && r.Method == http.MethodPatch:
		f.handleUpdate(w, r, namespace)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *FakeEndor) handleAuth(w http.ResponseWriter, r *http.Request) {
	f.authCalls++

	var body struct {
		Key    string `json:"key"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Key != FakeAPIKey || body.Secret != FakeAPISecret {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]string{"token": FakeToken})
}

func (f *FakeEndor) handleProjects(w http.ResponseWriter, r *http.Request, namespace string) {
	filter := r.URL.Query().Get("list_parameters.filter")
	uuid := strings.Trim(strings.TrimPrefix(filter, "uuid=="), `"`)

	objects := []map[string]any{}
	if ns, ok := f.projects[uuid]; ok && (ns == namespace || strings.HasPrefix(ns, namespace+".")) {
		objects = append(objects, map[string]any{
			"uuid":        uuid,
			"tenant_meta": map[string]string{"namespace": ns},
		})
	}

	writeJSON(w, listBody(objects, ""))
}

func (f *FakeEndor) handleListFindings(w http.ResponseWriter, r *http.Request, namespace string) {
	f.listCalls++
	if f.failList != 0 {
		http.Error(w, `{"message":"list failed"}`, f.failList)
		return
	}

	query := r.URL.Query()
	clauses := parseFilter(query.Get("list_parameters.filter"))

	var matched []map[string]any
	for _, fd := range f.findings {
		if fd.Namespace != namespace && !strings.HasPrefix(fd.Namespace, namespace+".") {
			continue
		}
		if !clauses.matches(fd) {
			continue
		}
		matched = append(matched, map[string]any{
			"uuid":        fd.UUID,
			"meta":        map[string]any{"tags": slices.Clone(fd.Tags)},
			"tenant_meta": map[string]string{"namespace": fd.Namespace},
			"spec":        map[string]string{"project_uuid": fd.ProjectUUID},
			"context":     map[string]string{"type": fd.ContextType, "id": fd.ContextID},
		})
	}

	start := 0
	if token := query.Get("list_parameters.page_token"); token != "" {
		fmt.Sscanf(token, "page-%d", &start)
	}
	if start > len(matched) {
		start = len(matched)
	}

	end := len(matched)
	next := ""
	if f.PageSize > 0 && start+f.PageSize < len(matched) {
		end = start + f.PageSize
		next = fmt.Sprintf("page-%d", end)
	}

	if f.StuckPageToken != "" {
		next = f.StuckPageToken
	}

	page := matched[start:end]
	if page == nil {
		page = []map[string]any{}
	}
	writeJSON(w, listBody(page, next))
}

func (f *FakeEndor) handleUpdate(w http.ResponseWriter, r *http.Request, namespace string) {
	var body struct {
		Request struct {
			UpdateMask string `json:"update_mask"`
		} `json:"request"`
		Object struct {
			UUID string `json:"uuid"`
			Meta struct {
				Tags []string `json:"tags"`
			} `json:"meta"`
		} `json:"object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.updates = append(f.updates, Update{
		Namespace:  namespace,
		UUID:       body.Object.UUID,
		UpdateMask: body.Request.UpdateMask,
		Tags:       body.Object.Meta.Tags,
	})

	if status, ok := f.failUpdates[body.Object.UUID]; ok {
		http.Error(w, `{"message":"update rejected"}`, status)
		return
	}

	for _, fd := range f.findings {
		if fd.UUID == body.Object.UUID && fd.Namespace == namespace {
			if body.Request.UpdateMask == "meta.tags" {
				fd.Tags = slices.Clone(body.Object.Meta.Tags)
			}
			writeJSON(w, map[string]any{"uuid": fd.UUID, "meta": map[string]any{"tags": fd.Tags}})
			return
		}
	}

	http.Error(w, `{"message":"finding not found"}`, http.StatusNotFound)
}

// filterClauses is the parsed form of the finding filters retag sends.
type filterClauses struct {
	contextType string
	contextID   string
	projectUUID string
	tag         string
}

func parseFilter(filter string) filterClauses {
	var c filterClauses
	for _, clause := range strings.Split(filter, " and ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "context.type=="):
			c.contextType = strings.TrimPrefix(clause, "context.type==")
		case strings.HasPrefix(clause, "context.id=="):
			c.contextID = strings.TrimPrefix(clause, "context.id==")
		case strings.HasPrefix(clause, "spec.project_uuid=="):
			c.projectUUID = strings.TrimPrefix(clause, "spec.project_uuid==")
		case strings.HasPrefix(clause, "meta.tags CONTAINS "):
			c.tag = strings.Trim(strings.TrimPrefix(clause, "meta.tags CONTAINS "), `"`)
		}
	}
	return c
}

func (c filterClauses) matches(fd *FakeFinding) bool {
	if c.contextType != "" && fd.ContextType != c.contextType {
		return false
	}
	if c.contextID != "" && fd.ContextID != c.contextID {
		return false
	}
	if c.projectUUID != "" && fd.ProjectUUID != c.projectUUID {
		return false
	}
	if c.tag != "" && !slices.Contains(fd.Tags, c.tag) {
		return false
	}
	return true
}

func listBody(objects any, next string) map[string]any {
	return map[string]any{
		"list": map[string]any{
			"objects":  objects,
			"response": map[string]string{"next_page_token": next},
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
