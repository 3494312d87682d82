package apply

import "context"

// CapabilityChecker answers the single permission question the flow
// needs: may this member act as an application admin. A member passes
// by id allow-list or by holding any allow-listed role.
type CapabilityChecker struct {
	AllowedUserIDs []string
	AllowedRoleIDs []string
}

func (c *CapabilityChecker) IsAdmin(userID string, roleIDs []string) bool {
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	for _, held := range roleIDs {
		for _, allowed := range c.AllowedRoleIDs {
			if held == allowed {
				return true
			}
		}
	}
	return false
}

// MemberIsAdmin resolves the member's roles before checking.
func (c *CapabilityChecker) MemberIsAdmin(ctx context.Context, roster Roster, guildID, userID string) (bool, error) {
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true, nil
		}
	}
	if len(c.AllowedRoleIDs) == 0 {
		return false, nil
	}
	roles, err := roster.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return c.IsAdmin(userID, roles), nil
}
