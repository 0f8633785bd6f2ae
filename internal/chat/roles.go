package chat

import (
	"encoding/json"
	"fmt"
)

// Role is the totally ordered membership role. Same-or-senior comparisons
// gate role changes and removals.
type Role uint8

const (
	RoleNone Role = iota
	RoleMember
	RoleModerator
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a role name back to its value.
func ParseRole(s string) (Role, error) {
	switch s {
	case "none":
		return RoleNone, nil
	case "member":
		return RoleMember, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	default:
		return RoleNone, fmt.Errorf("chat: unknown role %q", s)
	}
}

// Roles persist by name, not number.
func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsSameOrSenior reports whether r may act on members holding other.
func (r Role) IsSameOrSenior(other Role) bool { return r >= other }

// IsPermitted reports whether role meets the minimum required role.
func IsPermitted(role, required Role) bool { return role >= required }

// Permissions maps each mutable capability to the minimum role required.
// SendMessages is the default row for content types without an explicit
// entry; Thread, when set, overrides the whole matrix for thread sends.
type Permissions struct {
	ChangeRoles       Role            `json:"change_roles"`
	AddMembers        Role            `json:"add_members"`
	RemoveMembers     Role            `json:"remove_members"`
	ChangePermissions Role            `json:"change_permissions"`
	PinMessages       Role            `json:"pin_messages"`
	DeleteMessages    Role            `json:"delete_messages"`
	ReactToMessages   Role            `json:"react_to_messages"`
	CreatePolls       Role            `json:"create_polls"`
	ReplyInThread     Role            `json:"reply_in_thread"`
	SendMessages      Role            `json:"send_messages"`
	SendByContent     map[string]Role `json:"send_by_content,omitempty"`
	Thread            *Permissions    `json:"thread,omitempty"`
}

// DefaultPermissions mirrors the defaults applied to new group chats.
func DefaultPermissions() Permissions {
	return Permissions{
		ChangeRoles:       RoleAdmin,
		AddMembers:        RoleAdmin,
		RemoveMembers:     RoleModerator,
		ChangePermissions: RoleAdmin,
		PinMessages:       RoleAdmin,
		DeleteMessages:    RoleModerator,
		ReactToMessages:   RoleMember,
		CreatePolls:       RoleMember,
		ReplyInThread:     RoleMember,
		SendMessages:      RoleMember,
	}
}

// minRoleToSend resolves the matrix row for a content type, falling back to
// the default row, using the thread override matrix when configured.
func (p Permissions) minRoleToSend(contentKind string, inThread bool) Role {
	m := p
	if inThread && p.Thread != nil {
		m = *p.Thread
	}
	if r, ok := m.SendByContent[contentKind]; ok {
		return r
	}
	return m.SendMessages
}

// CanSend reports whether role may send the given content type.
func (p Permissions) CanSend(role Role, contentKind string, inThread bool) bool {
	return IsPermitted(role, p.minRoleToSend(contentKind, inThread))
}

// CanChangeRoles reports whether role may assign newRole: the caller needs
// the change-roles capability and may only grant roles at or below their own
// seniority.
func (p Permissions) CanChangeRoles(role, newRole Role) bool {
	return IsPermitted(role, p.ChangeRoles) && role.IsSameOrSenior(newRole)
}
