package services

import "errors"

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrCopyNotFound is returned when no copy exists under the given label.
	ErrCopyNotFound = errors.New("copy not found")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRequestNotFound is returned when the referenced loan request does not exist.
	ErrRequestNotFound = errors.New("loan request not found")

	// ErrNotificationNotFound is returned when a notification does not exist
	// or belongs to a different recipient.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrConflict is returned when a conditional write lost a race twice in a
	// row: the copy's state changed between read and write on both the first
	// attempt and the automatic retry. Safe to retry after re-reading.
	ErrConflict = errors.New("copy state changed concurrently, please retry")

	// ErrCopyUnavailable is returned when a loan or request is attempted on a
	// copy that is not in a state that permits it.
	ErrCopyUnavailable = errors.New("copy is not available")

	// ErrDuplicateTitle is returned when the user already holds another copy
	// of the same title. The wrapped message names the conflicting label.
	ErrDuplicateTitle = errors.New("already holding a copy of this title")

	// ErrLoanLimitReached is returned when the user is at the concurrent-loan
	// cap across all sites.
	ErrLoanLimitReached = errors.New("loan limit reached")

	// ErrNotOwner is returned when a request cancellation finds no pending
	// request held by the caller: the copy is not requested, or someone
	// else requested it.
	ErrNotOwner = errors.New("no pending request by this user")

	// ErrNotRented is returned when a return is attempted on a copy that is
	// not currently rented.
	ErrNotRented = errors.New("copy is not rented")

	// ErrCopyInUse is returned when deletion or relabeling is attempted while
	// the copy is rented or requested.
	ErrCopyInUse = errors.New("copy is rented or requested")

	// ErrDuplicateLabel is returned when a label number is already taken.
	ErrDuplicateLabel = errors.New("label number already exists")

	// ErrRequestDecided is returned when approving or rejecting a loan
	// request that is no longer pending.
	ErrRequestDecided = errors.New("loan request already decided")

	// ErrDuplicateWatch is returned when the user already has an active
	// return watch for the same title and site.
	ErrDuplicateWatch = errors.New("return watch already active for this title")
)
