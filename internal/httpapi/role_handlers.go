package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"opsboard.org/internal/authz"
)

func (a *API) handleAuthzInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.authorize(w, r, RequirePermission(authz.PermUsersRead)); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": a.catalog.GroupInfos(),
	})
}

func (a *API) handleRoleFromToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.authorize(w, r, RequireSession())
	if !ok {
		return
	}
	summary, err := a.resolver.RoleFromToken(r.Context(), p)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleCreateRole(w, r)
	case http.MethodGet:
		a.handleListInvitableRoles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersWrite))
	if !ok {
		return
	}
	var req authz.CreateRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.CreateRole(r.Context(), p, req)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.create", map[string]any{
		"role_id":     role.ID,
		"role_name":   role.Name,
		"scope_level": role.Level.String(),
		"org_id":      role.Lineage.OrgID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListInvitableRoles(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersRead))
	if !ok {
		return
	}
	roles, err := a.roles.ListInvitableRoles(r.Context(), p)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
	})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.handleGetRole(w, r, roleID)
	case http.MethodPut:
		a.handleUpdateRole(w, r, roleID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request, roleID string) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersRead))
	if !ok {
		return
	}
	role, err := a.roles.GetRole(r.Context(), p, roleID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request, roleID string) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersWrite))
	if !ok {
		return
	}
	var req authz.UpdateRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.UpdateRole(r.Context(), p, roleID, req)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.update", map[string]any{
		"role_id":   role.ID,
		"role_name": role.Name,
	})
	writeJSON(w, http.StatusOK, role)
}

// --- shared helpers ---

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthzError maps the domain error taxonomy onto HTTP statuses. Each
// kind keeps a distinct status so a wrong-purpose credential is never
// mistaken for a permission denial.
func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput),
		errors.Is(err, authz.ErrInvalidScope),
		errors.Is(err, authz.ErrUnknownPermissionGroup),
		errors.Is(err, authz.ErrImmutableField),
		errors.Is(err, authz.ErrInvalidSelection):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrInvalidTokenPurpose):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, authz.ErrInsufficientPrivilege):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrNotFound), errors.Is(err, authz.ErrRoleNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrAlreadyExists), errors.Is(err, authz.ErrAlreadyProcessed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
