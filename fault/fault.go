// Package fault is the error taxonomy shared by the equinox packages.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Error() strings are kept human-readable and may evolve.
package fault

import "errors"

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	KindUnsupportedAlgorithm Kind = "UnsupportedAlgorithm"
	KindNoCurrentKey         Kind = "NoCurrentKey"
	KindKeysNotInitialized   Kind = "KeysNotInitialized"
	KindDecryption           Kind = "DecryptionError"
	KindInvalidFormat        Kind = "InvalidFormat"
	KindProofGeneration      Kind = "ProofGenerationError"
	KindVerificationFailed   Kind = "VerificationFailed"
	KindInternal             Kind = "Internal"
)

// Error is the structured error type returned by every equinox package.
//
// RuleID is a stable identifier (e.g., EQX-KEY-001, EQX-MERKLE-002) naming the
// violated rule. Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error without a cause.
func New(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// Wrap returns a structured error carrying cause. A nil cause yields New.
func Wrap(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return New(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
