package authz

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityLevel positions a role in the organizational hierarchy. Higher values
// dominate lower ones.
type EntityLevel int

const (
	LevelProfile EntityLevel = iota
	LevelMerchant
	LevelOrganization
)

func (l EntityLevel) String() string {
	switch l {
	case LevelOrganization:
		return "organization"
	case LevelMerchant:
		return "merchant"
	case LevelProfile:
		return "profile"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the level as its wire name.
func (l EntityLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes the wire name back into a level.
func (l *EntityLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEntityLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseEntityLevel converts the stored/wire representation back into a level.
func ParseEntityLevel(s string) (EntityLevel, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "organization":
		return LevelOrganization, nil
	case "merchant":
		return LevelMerchant, nil
	case "profile":
		return LevelProfile, nil
	default:
		return 0, fmt.Errorf("%w: unsupported scope level %q", ErrInvalidInput, s)
	}
}

// Lineage is the organizational scope chain an entity belongs to. MerchantID
// and ProfileID are empty for entities scoped above those levels.
type Lineage struct {
	OrgID      string `json:"org_id"`
	MerchantID string `json:"merchant_id,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
}

// Role groups permission tags at a scope level within a lineage. Scope level is
// fixed at creation and never changes afterwards.
type Role struct {
	ID        string      `json:"role_id"`
	Name      string      `json:"role_name"`
	Groups    []GroupTag  `json:"groups"`
	Level     EntityLevel `json:"scope_level"`
	Lineage   Lineage     `json:"lineage"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	// IsInvitable is derived per caller, never persisted: whether the caller's
	// own scope allows granting this role to a newly invited user.
	IsInvitable bool `json:"is_invitable"`
}

// RoleWithGroups is a role joined with the catalog descriptions of its groups.
type RoleWithGroups struct {
	Role
	GroupInfo []GroupInfo `json:"group_info"`
}

// UserRoleStatus tracks the lifecycle of a user-role binding. Transitions go
// invited -> active and never back.
type UserRoleStatus string

const (
	StatusInvited UserRoleStatus = "invited"
	StatusActive  UserRoleStatus = "active"
)

// UserRole binds a user to a role within a lineage. Email is the address the
// invitation went to; it stays on the binding after activation.
type UserRole struct {
	UserID    string         `json:"user_id"`
	Email     string         `json:"email,omitempty"`
	RoleID    string         `json:"role_id"`
	Lineage   Lineage        `json:"lineage"`
	Status    UserRoleStatus `json:"status"`
	InvitedBy string         `json:"invited_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TokenPurpose restricts a credential to one named operation until exchanged.
type TokenPurpose string

const (
	PurposeNone         TokenPurpose = ""
	PurposeAcceptInvite TokenPurpose = "accept_invite"
)

// Principal is the already-authenticated caller: identity, current role and
// lineage, plus the declared purpose when the credential is single-purpose.
// TokenID is the credential's unique id; single-purpose exchanges consume it
// so the same credential cannot complete two exchanges.
type Principal struct {
	UserID  string
	RoleID  string
	Lineage Lineage
	Purpose TokenPurpose
	TokenID string
}

// RoleSummary is the lightweight view used by session-refresh calls.
type RoleSummary struct {
	RoleID string      `json:"role_id"`
	Level  EntityLevel `json:"scope_level"`
	Groups []GroupTag  `json:"groups"`
}

// UserSummary is one row of the lineage directory listing.
type UserSummary struct {
	UserID   string         `json:"user_id"`
	Email    string         `json:"email,omitempty"`
	RoleID   string         `json:"role_id"`
	RoleName string         `json:"role_name"`
	Level    EntityLevel    `json:"scope_level"`
	Status   UserRoleStatus `json:"status"`
	Lineage  Lineage        `json:"lineage"`
}
