package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"opsboard.org/internal/authz"
	"opsboard.org/internal/token"
)

type stubRoleStore struct {
	createRoleFn func(context.Context, *authz.Role) error
	getRoleFn    func(context.Context, string) (*authz.Role, error)
	updateRoleFn func(context.Context, string, authz.RoleUpdate) (*authz.Role, error)
	listRolesFn  func(context.Context, authz.Lineage, authz.EntityLevel) ([]*authz.Role, error)
}

func (s *stubRoleStore) CreateRole(ctx context.Context, role *authz.Role) error {
	if s.createRoleFn != nil {
		return s.createRoleFn(ctx, role)
	}
	role.ID = "r-created"
	return nil
}

func (s *stubRoleStore) GetRole(ctx context.Context, roleID string) (*authz.Role, error) {
	if s.getRoleFn != nil {
		return s.getRoleFn(ctx, roleID)
	}
	return nil, fmt.Errorf("%w: role %s", authz.ErrNotFound, roleID)
}

func (s *stubRoleStore) UpdateRole(ctx context.Context, roleID string, upd authz.RoleUpdate) (*authz.Role, error) {
	if s.updateRoleFn != nil {
		return s.updateRoleFn(ctx, roleID, upd)
	}
	return nil, fmt.Errorf("%w: role %s", authz.ErrNotFound, roleID)
}

func (s *stubRoleStore) ListRolesWithin(ctx context.Context, lineage authz.Lineage, maxLevel authz.EntityLevel) ([]*authz.Role, error) {
	if s.listRolesFn != nil {
		return s.listRolesFn(ctx, lineage, maxLevel)
	}
	return nil, nil
}

type stubBindingStore struct {
	createBindingFn func(context.Context, *authz.UserRole) error
	listInvitedFn   func(context.Context, string) ([]*authz.UserRole, error)
	findBindingFn   func(context.Context, string, authz.Lineage) (*authz.UserRole, error)
	activateFn      func(context.Context, string, authz.Lineage, string) error
	reassignFn      func(context.Context, string, authz.Lineage, string) error
	deleteFn        func(context.Context, string, authz.Lineage) error
	listWithinFn    func(context.Context, authz.Lineage) ([]*authz.BindingWithRole, error)
}

func (s *stubBindingStore) CreateBinding(ctx context.Context, binding *authz.UserRole) error {
	if s.createBindingFn != nil {
		return s.createBindingFn(ctx, binding)
	}
	return nil
}

func (s *stubBindingStore) ListInvited(ctx context.Context, userID string) ([]*authz.UserRole, error) {
	if s.listInvitedFn != nil {
		return s.listInvitedFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubBindingStore) FindBinding(ctx context.Context, userID string, lineage authz.Lineage) (*authz.UserRole, error) {
	if s.findBindingFn != nil {
		return s.findBindingFn(ctx, userID, lineage)
	}
	return nil, fmt.Errorf("%w: binding", authz.ErrNotFound)
}

func (s *stubBindingStore) ActivateBinding(ctx context.Context, userID string, lineage authz.Lineage, exchangeID string) error {
	if s.activateFn != nil {
		return s.activateFn(ctx, userID, lineage, exchangeID)
	}
	return nil
}

func (s *stubBindingStore) ReassignBinding(ctx context.Context, userID string, lineage authz.Lineage, roleID string) error {
	if s.reassignFn != nil {
		return s.reassignFn(ctx, userID, lineage, roleID)
	}
	return nil
}

func (s *stubBindingStore) DeleteBinding(ctx context.Context, userID string, lineage authz.Lineage) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID, lineage)
	}
	return nil
}

func (s *stubBindingStore) ListBindingsWithin(ctx context.Context, lineage authz.Lineage) ([]*authz.BindingWithRole, error) {
	if s.listWithinFn != nil {
		return s.listWithinFn(ctx, lineage)
	}
	return nil, nil
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	issuer  *token.Issuer
}

func newTestAPI(t *testing.T, roles authz.RoleStore, bindings authz.UserRoleStore, opts ...Option) *testAPI {
	t.Helper()
	issuer, err := token.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	catalog := authz.NewCatalog()
	resolver, err := authz.NewResolver(roles, catalog)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	roleSvc, err := authz.NewRoleService(roles, catalog, resolver)
	if err != nil {
		t.Fatalf("NewRoleService: %v", err)
	}
	userRoleSvc, err := authz.NewUserRoleService(roles, bindings, resolver, issuer)
	if err != nil {
		t.Fatalf("NewUserRoleService: %v", err)
	}
	directory, err := authz.NewDirectory(bindings, resolver)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	api := New(Config{
		Version:   "test",
		Tokens:    issuer,
		Catalog:   catalog,
		Resolver:  resolver,
		Roles:     roleSvc,
		UserRoles: userRoleSvc,
		Directory: directory,
	}, opts...)
	return &testAPI{t: t, handler: api.Handler(), issuer: issuer}
}

func (a *testAPI) sessionToken(userID, roleID string, lineage authz.Lineage) string {
	a.t.Helper()
	signed, err := a.issuer.IssueSession(context.Background(), authz.SessionDescriptor{
		UserID:  userID,
		RoleID:  roleID,
		Lineage: lineage,
	})
	if err != nil {
		a.t.Fatalf("IssueSession: %v", err)
	}
	return signed.Token
}

func (a *testAPI) purposeToken(userID string) string {
	a.t.Helper()
	signed, err := a.issuer.IssueSinglePurpose(context.Background(), authz.IntermediateTokenDescriptor{
		UserID:  userID,
		Purpose: authz.PurposeAcceptInvite,
	})
	if err != nil {
		a.t.Fatalf("IssueSinglePurpose: %v", err)
	}
	return signed.Token
}

func (a *testAPI) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:54321"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func orgAdminRoleStore() *stubRoleStore {
	return &stubRoleStore{
		getRoleFn: func(_ context.Context, roleID string) (*authz.Role, error) {
			switch roleID {
			case "r-admin":
				return &authz.Role{
					ID: "r-admin", Name: "Org Admin",
					Groups:  []authz.GroupTag{authz.GroupUsersWrite},
					Level:   authz.LevelOrganization,
					Lineage: authz.Lineage{OrgID: "org-1"},
				}, nil
			case "r-viewer":
				return &authz.Role{
					ID: "r-viewer", Name: "Viewer",
					Groups:  []authz.GroupTag{authz.GroupAnalyticsView},
					Level:   authz.LevelMerchant,
					Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-1"},
				}, nil
			}
			return nil, fmt.Errorf("%w: role %s", authz.ErrNotFound, roleID)
		},
	}
}

func TestHealthzIsPublic(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})

	rec := api.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})

	rec := api.do(http.MethodGet, "/v1/authz/info", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthzInfoListsGroups(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodGet, "/v1/authz/info", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Groups []authz.GroupInfo `json:"groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Groups) == 0 {
		t.Fatal("expected group descriptions")
	}
}

func TestAuthzInfoForbiddenWithoutPermission(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})
	bearer := api.sessionToken("u-viewer", "r-viewer", authz.Lineage{OrgID: "org-1", MerchantID: "m-1"})

	rec := api.do(http.MethodGet, "/v1/authz/info", bearer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateRoleEndpoint(t *testing.T) {
	store := orgAdminRoleStore()
	store.createRoleFn = func(_ context.Context, role *authz.Role) error {
		role.ID = "r-new"
		return nil
	}
	api := newTestAPI(t, store, &stubBindingStore{})
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodPost, "/v1/roles", bearer, map[string]any{
		"role_name":   "Analyst",
		"groups":      []string{"users-read"},
		"scope_level": "merchant",
		"lineage":     map[string]string{"org_id": "org-1", "merchant_id": "m-1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/roles/r-new" {
		t.Fatalf("unexpected Location header %q", loc)
	}
	var role authz.Role
	if err := json.NewDecoder(rec.Body).Decode(&role); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if role.Level != authz.LevelMerchant || !role.IsInvitable {
		t.Fatalf("unexpected role payload: %+v", role)
	}
}

func TestUpdateRoleScopeLevelRejected(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodPut, "/v1/roles/r-viewer", bearer, map[string]any{
		"scope_level": "organization",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for immutable scope level, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAcceptInvitationRejectsSessionToken(t *testing.T) {
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, _ string) ([]*authz.UserRole, error) {
			t.Fatal("purpose gate must reject before storage access")
			return nil, nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.sessionToken("u-new", "r-viewer", authz.Lineage{OrgID: "org-1", MerchantID: "m-1"})

	rec := api.do(http.MethodPost, "/v1/user-roles/accept-invitation", bearer, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong purpose, got %d", rec.Code)
	}
}

func TestAcceptInvitationSingleMerchant(t *testing.T) {
	lineage := authz.Lineage{OrgID: "org-1", MerchantID: "m-1"}
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, userID string) ([]*authz.UserRole, error) {
			return []*authz.UserRole{{
				UserID: userID, RoleID: "r-viewer", Lineage: lineage, Status: authz.StatusInvited,
			}}, nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.purposeToken("u-new")

	rec := api.do(http.MethodPost, "/v1/user-roles/accept-invitation", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp authz.AcceptInvitationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != authz.AcceptStateActive || resp.Token.Token == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAcceptInvitationMultipleMerchants(t *testing.T) {
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, userID string) ([]*authz.UserRole, error) {
			return []*authz.UserRole{
				{UserID: userID, RoleID: "r-viewer", Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-1"}, Status: authz.StatusInvited},
				{UserID: userID, RoleID: "r-viewer", Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-2"}, Status: authz.StatusInvited},
			}, nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.purposeToken("u-new")

	rec := api.do(http.MethodPost, "/v1/user-roles/accept-invitation", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp authz.AcceptInvitationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != authz.AcceptStatePendingMerchantSelect || len(resp.Candidates) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMerchantSelectInvalidChoice(t *testing.T) {
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, userID string) ([]*authz.UserRole, error) {
			return []*authz.UserRole{
				{UserID: userID, RoleID: "r-viewer", Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-1"}, Status: authz.StatusInvited},
			}, nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.purposeToken("u-new")

	rec := api.do(http.MethodPost, "/v1/user-roles/merchant-select", bearer, map[string]string{
		"merchant_id": "m-9",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid selection, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMerchantSelectConflictOnRepeat(t *testing.T) {
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, userID string) ([]*authz.UserRole, error) {
			return []*authz.UserRole{
				{UserID: userID, RoleID: "r-viewer", Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-1"}, Status: authz.StatusInvited},
			}, nil
		},
		activateFn: func(_ context.Context, _ string, _ authz.Lineage, _ string) error {
			return fmt.Errorf("%w: binding is active", authz.ErrAlreadyProcessed)
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.purposeToken("u-new")

	rec := api.do(http.MethodPost, "/v1/user-roles/merchant-select", bearer, map[string]string{
		"merchant_id": "m-1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMerchantSelectTokenReuseAcrossMerchants(t *testing.T) {
	type state struct {
		status map[string]authz.UserRoleStatus
	}
	st := state{status: map[string]authz.UserRoleStatus{"m-1": authz.StatusInvited, "m-2": authz.StatusInvited}}
	consumed := map[string]bool{}
	bindings := &stubBindingStore{
		listInvitedFn: func(_ context.Context, userID string) ([]*authz.UserRole, error) {
			var out []*authz.UserRole
			for _, m := range []string{"m-1", "m-2"} {
				if st.status[m] == authz.StatusInvited {
					out = append(out, &authz.UserRole{
						UserID: userID, RoleID: "r-viewer",
						Lineage: authz.Lineage{OrgID: "org-1", MerchantID: m},
						Status:  authz.StatusInvited,
					})
				}
			}
			return out, nil
		},
		activateFn: func(_ context.Context, _ string, lineage authz.Lineage, exchangeID string) error {
			if consumed[exchangeID] {
				return fmt.Errorf("%w: credential already exchanged", authz.ErrAlreadyProcessed)
			}
			consumed[exchangeID] = true
			st.status[lineage.MerchantID] = authz.StatusActive
			return nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.purposeToken("u-new")

	rec := api.do(http.MethodPost, "/v1/user-roles/merchant-select", bearer, map[string]string{
		"merchant_id": "m-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first select: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = api.do(http.MethodPost, "/v1/user-roles/merchant-select", bearer, map[string]string{
		"merchant_id": "m-2",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second select with the same token: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.status["m-2"] != authz.StatusInvited {
		t.Fatalf("unchosen binding must stay invited, got %s", st.status["m-2"])
	}
}

func TestInviteUserEndpoint(t *testing.T) {
	var created *authz.UserRole
	bindings := &stubBindingStore{
		createBindingFn: func(_ context.Context, b *authz.UserRole) error {
			created = b
			return nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodPost, "/v1/user-roles/invite", bearer, map[string]any{
		"user_id": "u-new",
		"email":   "new@example.com",
		"role_id": "r-viewer",
		"lineage": map[string]string{"org_id": "org-1", "merchant_id": "m-1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if created == nil || created.Email != "new@example.com" {
		t.Fatalf("expected invitee email persisted, got %+v", created)
	}
}

func TestRequestBodyLimitIsConfigurable(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{}, WithMaxBodyBytes(64))
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodPost, "/v1/roles", bearer, map[string]any{
		"role_name":   strings.Repeat("x", 256),
		"groups":      []string{"users-read"},
		"scope_level": "merchant",
		"lineage":     map[string]string{"org_id": "org-1", "merchant_id": "m-1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteUserRoleEndpoint(t *testing.T) {
	deleted := false
	bindings := &stubBindingStore{
		findBindingFn: func(_ context.Context, userID string, lineage authz.Lineage) (*authz.UserRole, error) {
			return &authz.UserRole{UserID: userID, RoleID: "r-viewer", Lineage: lineage, Status: authz.StatusActive}, nil
		},
		deleteFn: func(_ context.Context, _ string, _ authz.Lineage) error {
			deleted = true
			return nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodDelete, "/v1/user-roles", bearer, map[string]any{
		"user_id": "u-member",
		"lineage": map[string]string{"org_id": "org-1", "merchant_id": "m-1"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if !deleted {
		t.Fatal("binding was not deleted")
	}
}

func TestLineageUsersEndpoint(t *testing.T) {
	bindings := &stubBindingStore{
		listWithinFn: func(_ context.Context, _ authz.Lineage) ([]*authz.BindingWithRole, error) {
			return []*authz.BindingWithRole{{
				UserRole: authz.UserRole{UserID: "u-member", RoleID: "r-viewer", Status: authz.StatusActive,
					Lineage: authz.Lineage{OrgID: "org-1", MerchantID: "m-1"}},
				RoleName: "Viewer", Level: authz.LevelMerchant,
			}}, nil
		},
	}
	api := newTestAPI(t, orgAdminRoleStore(), bindings)
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodGet, "/v1/lineage/users", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Users []authz.UserSummary `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Users) != 1 || payload.Users[0].UserID != "u-member" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRoleFromTokenEndpoint(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodGet, "/v1/authz/role", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary authz.RoleSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.RoleID != "r-admin" || summary.Level != authz.LevelOrganization {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	api := newTestAPI(t, orgAdminRoleStore(), &stubBindingStore{})
	bearer := api.sessionToken("u-admin", "r-admin", authz.Lineage{OrgID: "org-1"})

	rec := api.do(http.MethodDelete, "/v1/roles", bearer, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow == "" {
		t.Fatal("expected Allow header")
	}
}
