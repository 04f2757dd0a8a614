package authz

import (
	"fmt"
	"sort"
)

// GroupTag names a bundle of permissions assignable to a role.
type GroupTag string

// Permission is a single fine-grained capability.
type Permission string

const (
	GroupOperationsView        GroupTag = "operations-view"
	GroupOperationsManage      GroupTag = "operations-manage"
	GroupAnalyticsView         GroupTag = "analytics-view"
	GroupUsersRead             GroupTag = "users-read"
	GroupUsersWrite            GroupTag = "users-write"
	GroupMerchantDetailsView   GroupTag = "merchant-details-view"
	GroupMerchantDetailsManage GroupTag = "merchant-details-manage"
	GroupWorkflowsView         GroupTag = "workflows-view"
	GroupWorkflowsManage       GroupTag = "workflows-manage"
)

const (
	PermOperationsRead  Permission = "operations.read"
	PermOperationsWrite Permission = "operations.write"
	PermAnalyticsRead   Permission = "analytics.read"
	PermUsersRead       Permission = "users.read"
	PermUsersWrite      Permission = "users.write"
	PermMerchantRead    Permission = "merchant.read"
	PermMerchantWrite   Permission = "merchant.write"
	PermWorkflowsRead   Permission = "workflows.read"
	PermWorkflowsWrite  Permission = "workflows.write"
)

// GroupDef declares one catalog entry.
type GroupDef struct {
	Description string
	Permissions []Permission
}

// GroupInfo is the caller-facing description of one group tag.
type GroupInfo struct {
	Tag         GroupTag `json:"group"`
	Description string   `json:"description"`
}

var builtinGroups = map[GroupTag]GroupDef{
	GroupOperationsView: {
		Description: "View operational activity",
		Permissions: []Permission{PermOperationsRead},
	},
	GroupOperationsManage: {
		Description: "Manage operational activity",
		Permissions: []Permission{PermOperationsRead, PermOperationsWrite},
	},
	GroupAnalyticsView: {
		Description: "View analytics and reports",
		Permissions: []Permission{PermAnalyticsRead},
	},
	GroupUsersRead: {
		Description: "View team members and roles",
		Permissions: []Permission{PermUsersRead},
	},
	GroupUsersWrite: {
		Description: "Manage team members and roles",
		Permissions: []Permission{PermUsersRead, PermUsersWrite},
	},
	GroupMerchantDetailsView: {
		Description: "View merchant account details",
		Permissions: []Permission{PermMerchantRead},
	},
	GroupMerchantDetailsManage: {
		Description: "Manage merchant account details",
		Permissions: []Permission{PermMerchantRead, PermMerchantWrite},
	},
	GroupWorkflowsView: {
		Description: "View routing and workflow configuration",
		Permissions: []Permission{PermWorkflowsRead},
	},
	GroupWorkflowsManage: {
		Description: "Manage routing and workflow configuration",
		Permissions: []Permission{PermWorkflowsRead, PermWorkflowsWrite},
	},
}

// Catalog is the static mapping from group tags to the permissions they grant.
// It is constructed once at startup and safe for unsynchronized concurrent
// reads afterwards.
type Catalog struct {
	groups map[GroupTag]GroupDef
}

// NewCatalog builds the catalog from the builtin group definitions.
func NewCatalog() *Catalog {
	c, err := NewCatalogFromGroups(builtinGroups)
	if err != nil {
		// Builtin definitions are validated by tests; reaching this means the
		// binary shipped with a broken catalog.
		panic(err)
	}
	return c
}

// NewCatalogFromGroups builds a catalog from explicit definitions. An entry
// without permissions is a configuration error fatal at startup.
func NewCatalogFromGroups(defs map[GroupTag]GroupDef) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: catalog has no groups", ErrConfiguration)
	}
	groups := make(map[GroupTag]GroupDef, len(defs))
	for tag, def := range defs {
		if tag == "" {
			return nil, fmt.Errorf("%w: empty group tag", ErrConfiguration)
		}
		if len(def.Permissions) == 0 {
			return nil, fmt.Errorf("%w: group %s grants no permissions", ErrConfiguration, tag)
		}
		groups[tag] = def
	}
	return &Catalog{groups: groups}, nil
}

// Contains reports whether the tag exists in the catalog.
func (c *Catalog) Contains(tag GroupTag) bool {
	_, ok := c.groups[tag]
	return ok
}

// PermissionsFor expands group tags into the deduplicated permission set they
// grant. An unknown tag here means a role was persisted against a different
// catalog, which is a configuration error rather than a caller mistake.
func (c *Catalog) PermissionsFor(tags []GroupTag) ([]Permission, error) {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, tag := range tags {
		def, ok := c.groups[tag]
		if !ok {
			return nil, fmt.Errorf("%w: group %s not in catalog", ErrConfiguration, tag)
		}
		for _, p := range def.Permissions {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GroupInfos returns every tag with its description, ordered by tag.
func (c *Catalog) GroupInfos() []GroupInfo {
	out := make([]GroupInfo, 0, len(c.groups))
	for tag, def := range c.groups {
		out = append(out, GroupInfo{Tag: tag, Description: def.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Describe returns the description for a single tag, empty if unknown.
func (c *Catalog) Describe(tag GroupTag) string {
	return c.groups[tag].Description
}
