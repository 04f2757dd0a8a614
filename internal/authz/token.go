package authz

import (
	"context"
	"time"
)

// MerchantCandidate is one merchant an invitee may select before the final
// merchant-bound credential is issued.
type MerchantCandidate struct {
	MerchantID string `json:"merchant_id"`
	RoleID     string `json:"role_id"`
}

// SessionDescriptor describes a fully scoped session for the token issuer to
// sign: lineage plus resolved permissions, with no remaining purpose.
type SessionDescriptor struct {
	UserID      string
	RoleID      string
	Lineage     Lineage
	Permissions []Permission
}

// IntermediateTokenDescriptor describes the single-purpose credential issued
// between invitation acceptance and merchant selection.
type IntermediateTokenDescriptor struct {
	UserID     string
	Purpose    TokenPurpose
	Candidates []MerchantCandidate
}

// SignedToken is the issuer's output handed back to the caller.
type SignedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer signs descriptors produced by the invitation flow. The core
// never verifies signatures itself; it only shapes what gets signed.
type TokenIssuer interface {
	IssueSession(ctx context.Context, desc SessionDescriptor) (SignedToken, error)
	IssueSinglePurpose(ctx context.Context, desc IntermediateTokenDescriptor) (SignedToken, error)
}
