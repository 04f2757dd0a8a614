package authz

import (
	"context"
	"testing"
)

func TestListUsersInLineageFiltersAndSorts(t *testing.T) {
	roles := &stubRoleStore{
		getRoleFn: func(_ context.Context, _ string) (*Role, error) {
			return roleFixture("actor-role", LevelMerchant, Lineage{OrgID: "org-1", MerchantID: "m-1"}, GroupUsersRead), nil
		},
	}
	bindings := &stubBindingStore{
		listWithinFn: func(_ context.Context, lineage Lineage) ([]*BindingWithRole, error) {
			if lineage.MerchantID != "m-1" {
				t.Fatalf("expected query scoped to actor lineage, got %+v", lineage)
			}
			return []*BindingWithRole{
				{
					UserRole: UserRole{UserID: "u-b", RoleID: "r-1", Status: StatusActive,
						Lineage: Lineage{OrgID: "org-1", MerchantID: "m-1"}},
					RoleName: "Ops", Level: LevelMerchant,
				},
				{
					// organization-level role is invisible to a merchant actor
					UserRole: UserRole{UserID: "u-admin", RoleID: "r-org", Status: StatusActive,
						Lineage: Lineage{OrgID: "org-1", MerchantID: "m-1"}},
					RoleName: "Org Admin", Level: LevelOrganization,
				},
				{
					UserRole: UserRole{UserID: "u-a", RoleID: "r-2", Status: StatusInvited,
						Lineage: Lineage{OrgID: "org-1", MerchantID: "m-1", ProfileID: "p-1"}},
					RoleName: "Viewer", Level: LevelProfile,
				},
			}, nil
		},
	}
	directory, err := NewDirectory(bindings, newTestResolver(t, roles))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}

	users, err := directory.ListUsersInLineage(context.Background(), Principal{UserID: "u-actor", RoleID: "actor-role"})
	if err != nil {
		t.Fatalf("ListUsersInLineage: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected org-level binding filtered out, got %d users", len(users))
	}
	if users[0].UserID != "u-a" || users[1].UserID != "u-b" {
		t.Fatalf("expected ordering by user id, got %s %s", users[0].UserID, users[1].UserID)
	}
	if users[0].Status != StatusInvited || users[0].RoleName != "Viewer" {
		t.Fatalf("unexpected summary: %+v", users[0])
	}
}
