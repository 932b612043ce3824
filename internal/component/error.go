package component

import "fmt"

// Kind distinguishes where in the three-phase contract an Error
// originated, resolving the Open Question in spec.md §9 about an
// undifferentiated error type: every Kind here is commit-reject or
// mempool-reject, never protocol-fatal (that distinction belongs to
// store.FatalError).
type Kind int

const (
	// StatelessReject means check_stateless rejected the transaction
	// before any state was consulted.
	StatelessReject Kind = iota
	// StatefulReject means check_stateful rejected the transaction
	// against a read-only snapshot.
	StatefulReject
	// ExecuteReject means execute failed partway through applying the
	// transaction; the enclosing buffer must be dropped in its entirety.
	ExecuteReject
)

func (k Kind) String() string {
	switch k {
	case StatelessReject:
		return "stateless_reject"
	case StatefulReject:
		return "stateful_reject"
	case ExecuteReject:
		return "execute_reject"
	default:
		return "unknown_reject"
	}
}

// Error is the typed, commit-reject error every Component method returns
// on a validation or execution failure. It never signals a protocol-fatal
// condition.
type Error struct {
	Component string
	Kind      Kind
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Reject builds an Error for component, identifying where in the
// three-phase contract it occurred.
func Reject(componentName string, kind Kind, reason string) error {
	return &Error{Component: componentName, Kind: kind, Reason: reason}
}

// RejectWrap is Reject with an underlying cause preserved for %w-style
// unwrapping.
func RejectWrap(componentName string, kind Kind, reason string, cause error) error {
	return &Error{Component: componentName, Kind: kind, Reason: reason, Err: cause}
}
