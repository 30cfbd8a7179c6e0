package directory

import (
	"net/http"
	"net/url"
)

// Operation identifies the kind of change a Mutation makes.
type Operation string

const (
	// OpInsert adds a member to a group.
	OpInsert Operation = "insert"

	// OpDelete removes a member from a group.
	OpDelete Operation = "delete"

	// OpPatch changes the role of an existing member.
	OpPatch Operation = "patch"
)

// Mutation is a single membership change scoped to one group and one member.
// The zero value is not usable; build mutations with Insert, Delete or Patch.
type Mutation struct {
	op        Operation
	groupKey  string
	memberKey string
	member    Member
}

// Insert returns a mutation adding m to the group.
func Insert(groupKey string, m Member) Mutation {
	return Mutation{op: OpInsert, groupKey: groupKey, memberKey: m.Key(), member: m}
}

// Delete returns a mutation removing the member addressed by memberKey.
func Delete(groupKey, memberKey string) Mutation {
	return Mutation{op: OpDelete, groupKey: groupKey, memberKey: memberKey}
}

// Patch returns a mutation setting the role of m to m.Role.
func Patch(groupKey string, m Member) Mutation {
	return Mutation{op: OpPatch, groupKey: groupKey, memberKey: m.Key(), member: m}
}

// Op returns the mutation's operation.
func (m Mutation) Op() Operation { return m.op }

// GroupKey returns the group the mutation applies to.
func (m Mutation) GroupKey() string { return m.groupKey }

// MemberKey returns the email or id of the member being changed.
func (m Mutation) MemberKey() string { return m.memberKey }

// Member returns the member payload. It is empty for deletes.
func (m Mutation) Member() Member { return m.member }

// Kind returns the request kind name used in logs and error messages.
func (m Mutation) Kind() string {
	switch m.op {
	case OpInsert:
		return "InsertRequest"
	case OpDelete:
		return "DeleteRequest"
	case OpPatch:
		return "PatchRequest"
	default:
		return "UnknownRequest"
	}
}

func (m Mutation) method() string {
	switch m.op {
	case OpInsert:
		return http.MethodPost
	case OpDelete:
		return http.MethodDelete
	default:
		return http.MethodPatch
	}
}

func (m Mutation) path() string {
	p := "/groups/" + url.PathEscape(m.groupKey) + "/members"
	if m.op != OpInsert {
		p += "/" + url.PathEscape(m.memberKey)
	}
	return p
}

func (m Mutation) body() any {
	if m.op == OpDelete {
		return nil
	}
	return m.member
}
