package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"groupcore.org/internal/access"
	"groupcore.org/internal/audience"
	"groupcore.org/internal/auth"
	"groupcore.org/internal/cache"
	"groupcore.org/internal/engine"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/event"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("GROUPCORE_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	registry := grouptype.New()
	registry.Register("node", "team", grouptype.Group)
	registry.Register("node", "post", grouptype.GroupContent)

	catalog := audience.NewCatalog(registry)
	if err := catalog.Define(audience.FieldDefinition{
		EntityType: "node",
		Bundle:     "post",
		Name:       "og_audience",
		FieldType:  "entity_reference",
		Handler:    audience.ReferenceHandler,
		TargetType: "node",
		Required:   true,
	}); err != nil {
		t.Fatalf("define audience field: %v", err)
	}

	source := entity.NewMemSource()
	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, source)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	resolver := access.NewResolver(registry, manager, catalog)
	tracker := cache.NewTracker(registry, manager, cache.NewTagSet())

	eng, err := engine.New(engine.Config{DeleteOrphans: true}, engine.Deps{
		Registry: registry,
		Catalog:  catalog,
		Manager:  manager,
		Resolver: resolver,
		Tracker:  tracker,
		Source:   source,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	bus := event.NewBus()
	eng.Bind(bus)

	api := New(ReadyProbe{}, "test", Deps{
		Engine:   eng,
		Registry: registry,
		Manager:  manager,
		Source:   source,
		Bus:      bus,
	})
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) delete(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) decode(resp *http.Response, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

func (c *apiClient) adminToken() string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":        "admin-1",
		"permissions": []string{access.PermAdministerGroup},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("token request failed: %d", resp.StatusCode)
	}
	var body tokenResponse
	c.decode(resp, &body)
	return body.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info: expected 200, got %d", resp.StatusCode)
	}
	var info map[string]any
	c.decode(resp, &info)
	if info["name"] != "groupcore-api" {
		t.Fatalf("unexpected service name: %v", info["name"])
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/group-types", map[string]any{
		"entity_type": "media",
		"bundle":      "album",
		"kind":        "group",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGroupTypeRegistration(t *testing.T) {
	c := newTestAPI(t)
	token := c.adminToken()

	resp := c.post("/v1/group-types", map[string]any{
		"entity_type": "media",
		"bundle":      "album",
		"kind":        "group",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/group-types", nil, bearerHeader(token))
	var listing struct {
		GroupTypes []grouptype.Descriptor `json:"group_types"`
	}
	c.decode(resp, &listing)
	found := false
	for _, d := range listing.GroupTypes {
		if d.EntityType == "media" && d.Bundle == "album" && d.Kind == grouptype.Group {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered type missing from listing: %v", listing.GroupTypes)
	}
}

func TestFieldListing(t *testing.T) {
	c := newTestAPI(t)
	token := c.adminToken()

	resp := c.get("/v1/fields", url.Values{
		"entity_type": {"node"},
		"bundle":      {"post"},
	}, bearerHeader(token))
	var body struct {
		AudienceFields []audience.Field   `json:"audience_fields"`
		ComputedFields []engine.FieldInfo `json:"computed_fields"`
	}
	c.decode(resp, &body)
	if len(body.AudienceFields) != 1 || body.AudienceFields[0].Name != "og_audience" {
		t.Fatalf("unexpected audience fields: %+v", body.AudienceFields)
	}
	if len(body.ComputedFields) != 0 {
		t.Fatalf("content bundle should have no computed fields: %+v", body.ComputedFields)
	}

	resp = c.get("/v1/fields", url.Values{
		"entity_type": {"node"},
		"bundle":      {"team"},
	}, bearerHeader(token))
	c.decode(resp, &body)
	if len(body.ComputedFields) != 1 || body.ComputedFields[0].Name != "group" {
		t.Fatalf("expected computed group flag: %+v", body.ComputedFields)
	}
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	token := c.adminToken()

	// Creating a group auto-creates the owner membership.
	resp := c.post("/v1/entities", map[string]any{
		"type":   "node",
		"id":     "g1",
		"bundle": "team",
		"owner":  "owner-1",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/memberships", url.Values{
		"group_type": {"node"},
		"group_id":   {"g1"},
	}, bearerHeader(token))
	var members struct {
		Memberships []*membership.Membership `json:"memberships"`
	}
	c.decode(resp, &members)
	if len(members.Memberships) != 1 || members.Memberships[0].UserID != "owner-1" {
		t.Fatalf("expected owner membership, got %+v", members.Memberships)
	}

	// Admin permission bypasses membership checks.
	resp = c.post("/v1/access/check", map[string]any{
		"operation":   "update",
		"entity_type": "node",
		"entity_id":   "g1",
	}, bearerHeader(token))
	var check map[string]any
	c.decode(resp, &check)
	if check["decision"] != "allowed" {
		t.Fatalf("expected allowed, got %v", check["decision"])
	}

	resp = c.post("/v1/access/create-check", map[string]any{
		"entity_type": "node",
		"bundle":      "post",
	}, bearerHeader(token))
	c.decode(resp, &check)
	if check["decision"] != "allowed" {
		t.Fatalf("expected allowed create, got %v", check["decision"])
	}

	// Content referencing the group becomes an orphan candidate on delete.
	resp = c.post("/v1/entities", map[string]any{
		"type":   "node",
		"id":     "p1",
		"bundle": "post",
		"owner":  "owner-1",
		"fields": map[string][]string{"og_audience": {"g1"}},
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create content: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.delete("/v1/entities/node/g1", bearerHeader(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete group: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/orphans/stats", nil, bearerHeader(token))
	var stats map[string]any
	c.decode(resp, &stats)
	if stats["enabled"] != true || stats["strategy"] != "queue" {
		t.Fatalf("unexpected orphan stats: %v", stats)
	}
	if stats["pending"] == float64(0) {
		t.Fatalf("expected pending orphan work, got %v", stats["pending"])
	}
}

func TestMembershipCRUDOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	token := c.adminToken()

	resp := c.post("/v1/entities", map[string]any{
		"type":   "node",
		"id":     "g2",
		"bundle": "team",
	}, bearerHeader(token))
	resp.Body.Close()

	resp = c.post("/v1/memberships", map[string]any{
		"group_type": "node",
		"group_id":   "g2",
		"user_id":    "user-7",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create membership: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Duplicate create conflicts.
	resp = c.post("/v1/memberships", map[string]any{
		"group_type": "node",
		"group_id":   "g2",
		"user_id":    "user-7",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate membership: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/memberships/node/g2/user-7", nil, bearerHeader(token))
	var rec membership.Membership
	c.decode(resp, &rec)
	if rec.UserID != "user-7" || rec.State != membership.StateActive {
		t.Fatalf("unexpected membership: %+v", rec)
	}

	resp = c.delete("/v1/memberships/node/g2/user-7", bearerHeader(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete membership: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/memberships/node/g2/user-7", nil, bearerHeader(token))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRoleEndpoints(t *testing.T) {
	c := newTestAPI(t)
	token := c.adminToken()

	resp := c.post("/v1/roles", map[string]any{
		"group_type":  "node",
		"name":        "editor",
		"permissions": []string{"node.post.update"},
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d", resp.StatusCode)
	}
	var role membership.Role
	c.decode(resp, &role)
	if role.ID == "" || role.Name != "editor" {
		t.Fatalf("unexpected role: %+v", role)
	}

	resp = c.get("/v1/roles", url.Values{"group_type": {"node"}}, bearerHeader(token))
	var listing struct {
		Roles []*membership.Role `json:"roles"`
	}
	c.decode(resp, &listing)
	if len(listing.Roles) != 1 || listing.Roles[0].ID != role.ID {
		t.Fatalf("unexpected role listing: %+v", listing.Roles)
	}

	resp = c.get("/v1/roles/"+role.ID, nil, bearerHeader(token))
	var fetched membership.Role
	c.decode(resp, &fetched)
	if fetched.ID != role.ID || !fetched.Grants("node.post.update") {
		t.Fatalf("unexpected fetched role: %+v", fetched)
	}
}
