package directory

import "strings"

// Member roles understood by the directory service.
const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RoleMember  = "MEMBER"
)

// Member is a member of a directory group.
type Member struct {
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewMember builds a member from an identifier that is either an email
// address or an opaque directory id. An empty role defaults to RoleMember.
func NewMember(memberID, role string) Member {
	m := Member{Role: role}
	if strings.Contains(memberID, "@") {
		m.Email = memberID
	} else {
		m.ID = memberID
	}
	if m.Role == "" {
		m.Role = RoleMember
	}
	return m
}

// Key returns the member key used to address the member: its email if set,
// otherwise its id.
func (m Member) Key() string {
	if m.Email != "" {
		return m.Email
	}
	return m.ID
}

// MemberPage is one page of a group's member listing.
type MemberPage struct {
	Members       []Member `json:"members"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}
