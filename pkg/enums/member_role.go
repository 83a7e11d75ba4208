package enums

import "fmt"

// MemberRole scopes what an actor may do inside a workspace.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

var validMemberRoles = []MemberRole{
	MemberRoleOwner,
	MemberRoleAdmin,
	MemberRoleMember,
}

// String implements fmt.Stringer.
func (r MemberRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known MemberRole.
func (r MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsElevated reports whether the role may resolve refund requests.
func (r MemberRole) IsElevated() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
