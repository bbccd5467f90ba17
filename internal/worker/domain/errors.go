package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrCredentialNotFound is returned when a credential record does not exist
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrTokenAlreadyAssigned is returned when a credential already carries a
	// different token than the one being recorded
	ErrTokenAlreadyAssigned = errors.New("credential token already assigned")

	// ErrAnchorRetriesExhausted is returned when an anchor has used up its retry budget
	ErrAnchorRetriesExhausted = errors.New("anchor retries exhausted")
)

// ItemError marks a failure scoped to a single credential item. The batch
// records the failure and continues with the remaining items.
type ItemError struct {
	Err error
}

func (e *ItemError) Error() string {
	return "item error: " + e.Err.Error()
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError creates a new item-scoped error
func NewItemError(err error) error {
	return &ItemError{Err: err}
}

// AdapterError marks a failure of a ledger adapter itself (connectivity,
// authentication, gateway outage). Processing the batch must stop because
// every remaining item would hit the same failure.
type AdapterError struct {
	Ledger string
	Err    error
}

func (e *AdapterError) Error() string {
	return "adapter error (" + e.Ledger + "): " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new adapter-scoped error
func NewAdapterError(ledger string, err error) error {
	return &AdapterError{Ledger: ledger, Err: err}
}

// IsItemError reports whether err is scoped to a single item
func IsItemError(err error) bool {
	var ie *ItemError
	return errors.As(err, &ie)
}

// IsAdapterError reports whether err indicates a failing adapter
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}
