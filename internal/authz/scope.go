package authz

import "fmt"

// Dominates reports whether an actor at the given level may act on a target at
// the other level. Organization > merchant > profile; equal levels dominate.
func (l EntityLevel) Dominates(target EntityLevel) bool {
	return l >= target
}

// Within reports whether the target lineage falls inside the outer one. An
// empty field on the outer lineage means that level is unconstrained, so an
// organization-scoped lineage contains every merchant and profile beneath it.
func (target Lineage) Within(outer Lineage) bool {
	if outer.OrgID == "" || target.OrgID != outer.OrgID {
		return false
	}
	if outer.MerchantID != "" && target.MerchantID != outer.MerchantID {
		return false
	}
	if outer.ProfileID != "" && target.ProfileID != outer.ProfileID {
		return false
	}
	return true
}

// CanManage is the single authorization primitive shared by role listing,
// lineage listing, user-role deletion and reassignment: the actor's role level
// must dominate the target level and the target lineage must sit inside the
// actor's own lineage.
func CanManage(actor *Role, targetLevel EntityLevel, target Lineage) bool {
	if actor == nil {
		return false
	}
	return actor.Level.Dominates(targetLevel) && target.Within(actor.Lineage)
}

// ValidateLineageShape checks that exactly the entity-id fields mandated by the
// scope level are present. A profile-scoped role carries all three ids, a
// merchant-scoped role carries org and merchant ids, an organization-scoped
// role carries only the org id.
func ValidateLineageShape(level EntityLevel, lin Lineage) error {
	if lin.OrgID == "" {
		return fmt.Errorf("%w: org_id is required", ErrInvalidScope)
	}
	switch level {
	case LevelOrganization:
		if lin.MerchantID != "" || lin.ProfileID != "" {
			return fmt.Errorf("%w: organization scope must not carry merchant or profile ids", ErrInvalidScope)
		}
	case LevelMerchant:
		if lin.MerchantID == "" {
			return fmt.Errorf("%w: merchant scope requires merchant_id", ErrInvalidScope)
		}
		if lin.ProfileID != "" {
			return fmt.Errorf("%w: merchant scope must not carry profile_id", ErrInvalidScope)
		}
	case LevelProfile:
		if lin.MerchantID == "" || lin.ProfileID == "" {
			return fmt.Errorf("%w: profile scope requires merchant_id and profile_id", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unsupported scope level", ErrInvalidScope)
	}
	return nil
}
