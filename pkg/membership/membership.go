package membership

import (
	"strings"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// Membership is the member list of one group.
type Membership struct {
	GroupKey string
	Members  []directory.Member
}

// NewMembership builds a membership from a listing.
func NewMembership(groupKey string, members []directory.Member) *Membership {
	return &Membership{GroupKey: groupKey, Members: members}
}

// Count returns the number of members.
func (m *Membership) Count() int {
	return len(m.Members)
}

// find returns the member addressed by memberKey. Keys compare
// case-insensitively, like directory emails.
func (m *Membership) find(memberKey string) (directory.Member, bool) {
	for _, member := range m.Members {
		if strings.EqualFold(member.Email, memberKey) || (member.ID != "" && member.ID == memberKey) {
			return member, true
		}
	}
	return directory.Member{}, false
}

// Has reports whether memberKey is a member.
func (m *Membership) Has(memberKey string) bool {
	_, ok := m.find(memberKey)
	return ok
}

// Role returns the role of memberKey, or "" if it is not a member.
func (m *Membership) Role(memberKey string) string {
	member, _ := m.find(memberKey)
	return member.Role
}

// Keys returns the keys of the members holding role, in listing order. An
// empty role selects every member.
func (m *Membership) Keys(role string) []string {
	var keys []string
	for _, member := range m.Members {
		if role == "" || strings.EqualFold(member.Role, role) {
			keys = append(keys, member.Key())
		}
	}
	return keys
}
