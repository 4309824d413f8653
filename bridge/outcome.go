package bridge

// FailureKind names why an authentication attempt did not succeed. None of them is an error.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDirectoryUnavailable
	FailureNoMatch
	FailureMissingPassword
	FailureBindFailed
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureDirectoryUnavailable:
		return "directory_unavailable"
	case FailureNoMatch:
		return "no_match"
	case FailureMissingPassword:
		return "missing_password"
	case FailureBindFailed:
		return "bind_failed"
	}

	return "unknown"
}

// Outcome is the result of an authentication attempt
type Outcome struct {
	// Identity is set when the attempt succeeded
	Identity *Identity

	// Source is the store that authenticated the identity
	Source Source

	// Failure is FailureNoMatch for every denied attempt and FailureNone otherwise
	Failure FailureKind

	// Cause is the reason the directory did not authenticate the credentials
	Cause FailureKind
}

// Authenticated reports whether an identity has been found
func (o Outcome) Authenticated() bool {
	return o.Identity != nil
}

func denied(cause FailureKind) Outcome {
	return Outcome{Failure: FailureNoMatch, Cause: cause}
}
