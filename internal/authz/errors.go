package authz

import "errors"

var (
	ErrInvalidInput           = errors.New("authz: invalid input")
	ErrInvalidScope           = errors.New("authz: lineage does not match scope level")
	ErrUnknownPermissionGroup = errors.New("authz: unknown permission group")
	ErrInsufficientPrivilege  = errors.New("authz: insufficient privilege")
	ErrImmutableField         = errors.New("authz: field is immutable")
	ErrNotFound               = errors.New("authz: not found")
	ErrRoleNotFound           = errors.New("authz: role not found")
	ErrInvalidTokenPurpose    = errors.New("authz: invalid token purpose")
	ErrInvalidSelection       = errors.New("authz: invalid merchant selection")
	ErrAlreadyExists          = errors.New("authz: already exists")
	ErrAlreadyProcessed       = errors.New("authz: already processed")
	ErrStorageUnavailable     = errors.New("authz: storage unavailable")
	ErrConfiguration          = errors.New("authz: catalog configuration error")
)
