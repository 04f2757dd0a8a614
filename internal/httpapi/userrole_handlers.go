package httpapi

import (
	"net/http"

	"opsboard.org/internal/authz"
)

func (a *API) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersWrite))
	if !ok {
		return
	}
	var req authz.InviteUserRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	binding, err := a.userRoles.InviteUser(r.Context(), p, req)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "user_role.invite", map[string]any{
		"user_id": binding.UserID,
		"role_id": binding.RoleID,
		"org_id":  binding.Lineage.OrgID,
	})
	writeJSON(w, http.StatusCreated, binding)
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.authorize(w, r, RequireTokenPurpose(authz.PurposeAcceptInvite))
	if !ok {
		return
	}
	resp, err := a.userRoles.AcceptInvitation(r.Context(), p)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	if resp.State == authz.AcceptStateActive {
		a.audit(r.Context(), "user_role.activate", map[string]any{
			"user_id": p.UserID,
			"role_id": resp.RoleID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMerchantSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.authorize(w, r, RequireTokenPurpose(authz.PurposeAcceptInvite))
	if !ok {
		return
	}
	var req authz.MerchantSelectRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.userRoles.MerchantSelect(r.Context(), p, req)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "user_role.activate", map[string]any{
		"user_id":     p.UserID,
		"role_id":     session.RoleID,
		"merchant_id": session.Lineage.MerchantID,
	})
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		a.handleUpdateUserRole(w, r)
	case http.MethodDelete:
		a.handleDeleteUserRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersWrite))
	if !ok {
		return
	}
	var req authz.UpdateUserRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.userRoles.UpdateUserRole(r.Context(), p, req); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "user_role.update", map[string]any{
		"user_id": req.UserID,
		"role_id": req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteUserRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.authorize(w, r, RequirePermission(authz.PermUsersWrite))
	if !ok {
		return
	}
	var req authz.DeleteUserRoleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.userRoles.DeleteUserRole(r.Context(), p, req); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), "user_role.delete", map[string]any{
		"user_id": req.UserID,
		"org_id":  req.Lineage.OrgID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLineageUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.authorize(w, r, RequireSession())
	if !ok {
		return
	}
	users, err := a.directory.ListUsersInLineage(r.Context(), p)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
	})
}
