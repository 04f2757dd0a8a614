package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// InviteUserRequest invites a user into a lineage under an existing role.
type InviteUserRequest struct {
	UserID  string  `json:"user_id"`
	Email   string  `json:"email,omitempty"`
	RoleID  string  `json:"role_id"`
	Lineage Lineage `json:"lineage"`
}

// AcceptInvitationState is the outcome of an accept-invitation call.
type AcceptInvitationState string

const (
	AcceptStateActive                AcceptInvitationState = "active"
	AcceptStatePendingMerchantSelect AcceptInvitationState = "pending_merchant_select"
)

// AcceptInvitationResponse either carries a full session (single merchant) or
// the merchant choices plus the intermediate single-purpose token.
type AcceptInvitationResponse struct {
	State      AcceptInvitationState `json:"state"`
	Token      SignedToken           `json:"token"`
	RoleID     string                `json:"role_id,omitempty"`
	Lineage    *Lineage              `json:"lineage,omitempty"`
	Candidates []MerchantCandidate   `json:"candidates,omitempty"`
}

// MerchantSelectRequest picks one merchant out of the candidate set.
type MerchantSelectRequest struct {
	MerchantID string `json:"merchant_id"`
}

// SessionResponse is the final fully scoped session descriptor.
type SessionResponse struct {
	Token   SignedToken `json:"token"`
	RoleID  string      `json:"role_id"`
	Lineage Lineage     `json:"lineage"`
}

// UpdateUserRoleRequest reassigns an active binding's role.
type UpdateUserRoleRequest struct {
	UserID  string  `json:"user_id"`
	RoleID  string  `json:"role_id"`
	Lineage Lineage `json:"lineage"`
}

// DeleteUserRoleRequest removes a binding from a lineage.
type DeleteUserRoleRequest struct {
	UserID  string  `json:"user_id"`
	Lineage Lineage `json:"lineage"`
}

// UserRoleService governs the invitation state machine and binding lifecycle:
// pending invitation, acceptance, merchant selection, reassignment, deletion.
type UserRoleService struct {
	roles    RoleStore
	bindings UserRoleStore
	resolver *Resolver
	tokens   TokenIssuer
}

// NewUserRoleService constructs a UserRoleService.
func NewUserRoleService(roles RoleStore, bindings UserRoleStore, resolver *Resolver, tokens TokenIssuer) (*UserRoleService, error) {
	if roles == nil {
		return nil, errors.New("authz: role store is required")
	}
	if bindings == nil {
		return nil, errors.New("authz: user-role store is required")
	}
	if resolver == nil {
		return nil, errors.New("authz: resolver is required")
	}
	if tokens == nil {
		return nil, errors.New("authz: token issuer is required")
	}
	return &UserRoleService{roles: roles, bindings: bindings, resolver: resolver, tokens: tokens}, nil
}

// requireAcceptInvite is the hard purpose gate: it runs before any business
// logic and is independent of permission checks. The credential must carry an
// id so a successful exchange can consume it.
func requireAcceptInvite(p Principal) error {
	if p.Purpose != PurposeAcceptInvite {
		return fmt.Errorf("%w: got %q, need %q", ErrInvalidTokenPurpose, p.Purpose, PurposeAcceptInvite)
	}
	if strings.TrimSpace(p.TokenID) == "" {
		return fmt.Errorf("%w: credential has no id", ErrInvalidTokenPurpose)
	}
	return nil
}

// InviteUser creates an invited binding. A binding already present for the
// same user and lineage, in any status, fails with ErrAlreadyExists.
func (s *UserRoleService) InviteUser(ctx context.Context, actor Principal, req InviteUserRequest) (*UserRole, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.RoleID) == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		return nil, fmt.Errorf("%w: malformed email %q", ErrInvalidInput, req.Email)
	}
	role, err := s.roles.GetRole(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}
	if err := ValidateLineageShape(role.Level, req.Lineage); err != nil {
		return nil, err
	}
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !CanManage(actorRole, role.Level, req.Lineage) {
		return nil, fmt.Errorf("%w: cannot grant role %s", ErrInsufficientPrivilege, role.ID)
	}

	binding := &UserRole{
		UserID:    req.UserID,
		Email:     req.Email,
		RoleID:    role.ID,
		Lineage:   req.Lineage,
		Status:    StatusInvited,
		InvitedBy: actor.UserID,
	}
	if err := s.bindings.CreateBinding(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// AcceptInvitation transitions the invitee's pending bindings. With a single
// candidate merchant the binding activates immediately and a full session is
// issued; with several, the caller gets the choices plus an intermediate
// single-purpose token.
func (s *UserRoleService) AcceptInvitation(ctx context.Context, p Principal) (*AcceptInvitationResponse, error) {
	if err := requireAcceptInvite(p); err != nil {
		return nil, err
	}
	invited, err := s.bindings.ListInvited(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if len(invited) == 0 {
		return nil, fmt.Errorf("%w: no pending invitations for user %s", ErrNotFound, p.UserID)
	}

	candidates := candidateMerchants(invited)
	if len(candidates) > 1 {
		tok, err := s.tokens.IssueSinglePurpose(ctx, IntermediateTokenDescriptor{
			UserID:     p.UserID,
			Purpose:    PurposeAcceptInvite,
			Candidates: candidates,
		})
		if err != nil {
			return nil, err
		}
		return &AcceptInvitationResponse{
			State:      AcceptStatePendingMerchantSelect,
			Token:      tok,
			Candidates: candidates,
		}, nil
	}

	session, err := s.activate(ctx, p.TokenID, invited[0])
	if err != nil {
		return nil, err
	}
	return &AcceptInvitationResponse{
		State:   AcceptStateActive,
		Token:   session.Token,
		RoleID:  session.RoleID,
		Lineage: &session.Lineage,
	}, nil
}

// MerchantSelect completes the exchange for invitees with multiple candidate
// merchants. The activation consumes the credential's token id atomically with
// the conditional invited -> active write, so a second select with the same
// credential fails ErrAlreadyProcessed no matter which merchant it names, and
// the other candidate bindings stay invited.
func (s *UserRoleService) MerchantSelect(ctx context.Context, p Principal, req MerchantSelectRequest) (*SessionResponse, error) {
	if err := requireAcceptInvite(p); err != nil {
		return nil, err
	}
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	if req.MerchantID == "" {
		return nil, fmt.Errorf("%w: merchant_id is required", ErrInvalidInput)
	}
	invited, err := s.bindings.ListInvited(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	var chosen *UserRole
	for _, b := range invited {
		if b.Lineage.MerchantID == req.MerchantID {
			chosen = b
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: merchant %s is not among the invitee's candidates", ErrInvalidSelection, req.MerchantID)
	}
	return s.activate(ctx, p.TokenID, chosen)
}

// activate performs the invited -> active transition, consuming the exchange
// credential, and issues the session.
func (s *UserRoleService) activate(ctx context.Context, exchangeID string, binding *UserRole) (*SessionResponse, error) {
	if err := s.bindings.ActivateBinding(ctx, binding.UserID, binding.Lineage, exchangeID); err != nil {
		return nil, err
	}
	role, err := s.roles.GetRole(ctx, binding.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, binding.RoleID)
		}
		return nil, err
	}
	res, err := s.resolver.ResolveRole(role)
	if err != nil {
		return nil, err
	}
	tok, err := s.tokens.IssueSession(ctx, SessionDescriptor{
		UserID:      binding.UserID,
		RoleID:      binding.RoleID,
		Lineage:     binding.Lineage,
		Permissions: res.Permissions,
	})
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Token: tok, RoleID: binding.RoleID, Lineage: binding.Lineage}, nil
}

// UpdateUserRole reassigns an active binding to a different role.
func (s *UserRoleService) UpdateUserRole(ctx context.Context, actor Principal, req UpdateUserRoleRequest) error {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.RoleID) == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return err
	}
	binding, err := s.bindings.FindBinding(ctx, req.UserID, req.Lineage)
	if err != nil {
		return err
	}
	if binding.Status != StatusActive {
		return fmt.Errorf("%w: no active binding for user %s", ErrNotFound, req.UserID)
	}
	current, err := s.roles.GetRole(ctx, binding.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, binding.RoleID)
		}
		return err
	}
	if !CanManage(actorRole, current.Level, binding.Lineage) {
		return fmt.Errorf("%w: cannot manage binding for user %s", ErrInsufficientPrivilege, req.UserID)
	}
	next, err := s.roles.GetRole(ctx, req.RoleID)
	if err != nil {
		return err
	}
	if !CanManage(actorRole, next.Level, req.Lineage) {
		return fmt.Errorf("%w: cannot grant role %s", ErrInsufficientPrivilege, next.ID)
	}
	if err := ValidateLineageShape(next.Level, binding.Lineage); err != nil {
		return err
	}
	return s.bindings.ReassignBinding(ctx, req.UserID, req.Lineage, next.ID)
}

// DeleteUserRole removes a binding. Deletion is not idempotent: deleting an
// already-deleted binding fails with ErrNotFound.
func (s *UserRoleService) DeleteUserRole(ctx context.Context, actor Principal, req DeleteUserRoleRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	actorRole, err := s.resolver.ActorRole(ctx, actor)
	if err != nil {
		return err
	}
	binding, err := s.bindings.FindBinding(ctx, req.UserID, req.Lineage)
	if err != nil {
		return err
	}
	// An orphaned binding has no role to compare levels against; lineage
	// containment alone governs whether the actor may clean it up.
	targetLevel := LevelProfile
	if role, err := s.roles.GetRole(ctx, binding.RoleID); err == nil {
		targetLevel = role.Level
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if !CanManage(actorRole, targetLevel, binding.Lineage) {
		return fmt.Errorf("%w: cannot manage binding for user %s", ErrInsufficientPrivilege, req.UserID)
	}
	return s.bindings.DeleteBinding(ctx, req.UserID, req.Lineage)
}

// candidateMerchants lists the distinct merchants across the invited bindings,
// ordered by merchant id.
func candidateMerchants(invited []*UserRole) []MerchantCandidate {
	seen := make(map[string]struct{}, len(invited))
	out := make([]MerchantCandidate, 0, len(invited))
	for _, b := range invited {
		key := b.Lineage.MerchantID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, MerchantCandidate{MerchantID: key, RoleID: b.RoleID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out
}
