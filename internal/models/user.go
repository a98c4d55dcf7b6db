package models

import (
	"sort"
	"time"
)

// User is a directory account
type User struct {
	ID            int64
	UnixUID       int64
	Loginname     string
	Displayname   string
	Mail          string
	PasswordHash  string
	IsServiceUser bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Groups is the persisted effective group set. Populated by the repository.
	Groups []Group
	// Roles are the directly assigned roles. Populated by the repository.
	Roles []Role
}

// IsInGroup reports whether the user is an effective member of the named
// group. The empty name matches every user.
func (u *User) IsInGroup(name string) bool {
	if name == "" {
		return true
	}
	for _, g := range u.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// HasGroupID reports whether the user is an effective member of the group
func (u *User) HasGroupID(id int64) bool {
	for _, g := range u.Groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// HasRole reports whether the role is directly assigned to the user
func (u *User) HasRole(roleID int64) bool {
	for _, r := range u.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// GroupNames returns the names of the user's effective groups
func (u *User) GroupNames() []string {
	names := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		names = append(names, g.Name)
	}
	return names
}

// Group is a named, numerically identified directory group
type Group struct {
	ID          int64
	UnixGID     int64
	Name        string
	Description string
}

// Role bundles groups that are granted to every member
type Role struct {
	ID               int64
	Name             string
	Description      string
	IsDefault        bool
	ModeratorGroupID *int64
	ModeratorGroup   *Group

	// Groups granted by the role through role_groups edges
	Groups []Group
}

// ModeratedBy reports whether u belongs to the role's moderator group
func (r *Role) ModeratedBy(u *User) bool {
	return r.ModeratorGroupID != nil && u.HasGroupID(*r.ModeratorGroupID)
}

// EffectiveGroups returns the union of the direct groups and the groups of
// every role, deduplicated by ID and sorted by name
func EffectiveGroups(direct []Group, roles []Role) []Group {
	seen := make(map[int64]Group)
	for _, g := range direct {
		seen[g.ID] = g
	}
	for _, r := range roles {
		for _, g := range r.Groups {
			seen[g.ID] = g
		}
	}

	groups := make([]Group, 0, len(seen))
	for _, g := range seen {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

// GroupIDs extracts the IDs of groups in order
func GroupIDs(groups []Group) []int64 {
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids
}
