package event_service

// Authorizer decides who counts as a manager.
type Authorizer struct {
	roles map[string]struct{}
}

func NewAuthorizer(managerRoleIDs []string) Authorizer {
	roles := make(map[string]struct{}, len(managerRoleIDs))
	for _, id := range managerRoleIDs {
		if id != "" {
			roles[id] = struct{}{}
		}
	}
	return Authorizer{roles: roles}
}

// IsManager is true for administrators and for holders of a manager role.
func (a Authorizer) IsManager(actor Actor) bool {
	if actor.IsAdmin {
		return true
	}
	for _, id := range actor.RoleIDs {
		if _, ok := a.roles[id]; ok {
			return true
		}
	}
	return false
}

// Has reports whether roleID is a manager role.
func (a Authorizer) Has(roleID string) bool {
	_, ok := a.roles[roleID]
	return ok
}
