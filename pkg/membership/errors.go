package membership

import (
	"fmt"

	"github.com/Sternrassler/directory-groups/pkg/directory"
	"go.uber.org/multierr"
)

// ItemError is a failed member mutation.
type ItemError struct {
	// GroupKey is the group the mutation targeted.
	GroupKey string

	// MemberKey is the email or id of the member.
	MemberKey string

	// Kind is the request kind, e.g. "InsertRequest".
	Kind string

	// StatusCode is the directory's HTTP status, 0 for transport failures.
	StatusCode int

	// Err is the underlying error, usually a *directory.APIError.
	Err error
}

func newItemError(groupKey string, m directory.Mutation, err error) *ItemError {
	return &ItemError{
		GroupKey:   groupKey,
		MemberKey:  m.MemberKey(),
		Kind:       m.Kind(),
		StatusCode: directory.StatusCode(err),
		Err:        err,
	}
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("%v; failed %s: %s; group: %s", e.Err, e.Kind, e.MemberKey, e.GroupKey)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// AggregateError reports two or more failed mutations of one call.
// MemberKeys[i] is the member whose mutation failed with Errors[i], in the
// order the failures were observed.
type AggregateError struct {
	GroupKey   string
	MemberKeys []string
	Errors     []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	return fmt.Sprintf("%d member changes failed for group %s: %v",
		len(e.Errors), e.GroupKey, multierr.Combine(e.Errors...))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// failures collects fatal mutation results in observation order.
type failures struct {
	groupKey   string
	memberKeys []string
	errs       []error
}

func (f *failures) add(memberKey string, err error) {
	f.memberKeys = append(f.memberKeys, memberKey)
	f.errs = append(f.errs, err)
}

func (f *failures) len() int {
	return len(f.errs)
}

// err returns nil for no failures, the failure itself for exactly one and an
// *AggregateError otherwise.
func (f *failures) err() error {
	switch len(f.errs) {
	case 0:
		return nil
	case 1:
		return f.errs[0]
	default:
		return &AggregateError{
			GroupKey:   f.groupKey,
			MemberKeys: append([]string(nil), f.memberKeys...),
			Errors:     append([]error(nil), f.errs...),
		}
	}
}
