package membership

import (
	"net/http"
	"strings"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// Outcome is the classification of one mutation's result.
type Outcome int

const (
	// OutcomeSuccess means the directory applied the mutation.
	OutcomeSuccess Outcome = iota

	// OutcomeIgnored means the directory rejected the mutation in a way the
	// caller asked to tolerate (member already present, member already gone).
	OutcomeIgnored

	// OutcomeRetryable means the rejection was transient and the mutation is
	// sent again on its own after all batches complete.
	OutcomeRetryable

	// OutcomeFatal means the mutation failed and is reported to the caller.
	OutcomeFatal
)

// String returns the outcome name used in logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Texts the directory uses for the conditions that can be tolerated or retried.
const (
	textMemberExists  = "member already exists"
	textMemberMissing = "Resource Not Found: memberKey"
	textQuotaExceeded = "quotaExceeded"
)

// ClassifyOptions selects which rejections are tolerated.
type ClassifyOptions struct {
	// IgnoreExistingMember tolerates a 409 for a member already in the group.
	IgnoreExistingMember bool

	// IgnoreMissingMember tolerates a 404 for a member not in the group.
	IgnoreMissingMember bool
}

// ClassifyStatus maps a rejected item's HTTP status and error text to an
// outcome. Text matching is case-insensitive. The ignore checks run before
// the retry checks.
func ClassifyStatus(status int, errText string, opts ClassifyOptions) Outcome {
	if opts.IgnoreExistingMember && status == http.StatusConflict && containsFold(errText, textMemberExists) {
		return OutcomeIgnored
	}

	if opts.IgnoreMissingMember && status == http.StatusNotFound && containsFold(errText, textMemberMissing) {
		return OutcomeIgnored
	}

	if status == http.StatusForbidden && containsFold(errText, textQuotaExceeded) {
		return OutcomeRetryable
	}

	if status == http.StatusServiceUnavailable {
		return OutcomeRetryable
	}

	return OutcomeFatal
}

// Classify maps an item error to an outcome. A nil error is a success; the
// status is taken from the directory.APIError wrapped by err, if any.
func Classify(err error, opts ClassifyOptions) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	return ClassifyStatus(directory.StatusCode(err), err.Error(), opts)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
