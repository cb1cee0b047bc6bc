// Package errors provides the error taxonomy for the cratewatch scan pipeline.
// Fatal kinds abort a scan immediately; recoverable conditions are carried as
// warnings inside the report instead of errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Base Error Type
// =============================================================================

// Error is the base error type for all cratewatch errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "lockfile.Parse")
	Op string

	// Message is a human-readable description
	Message string

	// Input identifies the offending input: a file path, an entry name,
	// or the raw string that failed to parse.
	Input string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindManifestParse - the manifest is malformed or declares an
	// unparseable requirement. Fatal.
	KindManifestParse

	// KindLockParse - the lockfile is unrecognized, missing exact versions,
	// or declares conflicting duplicates. Fatal.
	KindLockParse

	// KindConstraintSyntax - a version constraint expression failed to
	// parse. Fatal.
	KindConstraintSyntax

	// KindCycle - the resolved graph implies a dependency cycle, which a
	// valid build graph cannot contain. Fatal.
	KindCycle

	// KindNotFound - a referenced package or resource does not exist.
	KindNotFound

	// KindTimeout - a network-bound operation exceeded its deadline.
	KindTimeout

	// KindNetwork - a network-bound operation failed.
	KindNetwork

	// KindInternal - an invariant was violated inside the engine.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindManifestParse:
		return "manifest_parse"
	case KindLockParse:
		return "lock_parse"
	case KindConstraintSyntax:
		return "constraint_syntax"
	case KindCycle:
		return "cyclic_dependency"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Input != "" {
		fmt.Fprintf(&b, " (input: %q)", e.Input)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target. Two Errors match when
// their Kinds are equal, so sentinel matching works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Constructors
// =============================================================================

// E builds an Error. Args are interpreted by type: Kind, string (first is Op,
// second is Message, third is Input) and error.
func E(args ...interface{}) *Error {
	e := &Error{}
	strs := 0
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			switch strs {
			case 0:
				e.Op = a
			case 1:
				e.Message = a
			default:
				e.Input = a
			}
			strs++
		case error:
			e.Err = a
		}
	}
	return e
}

// ManifestParse builds a fatal manifest parse error. entry identifies the
// offending dependency entry or file location.
func ManifestParse(op, msg, entry string) *Error {
	return &Error{Kind: KindManifestParse, Op: op, Message: msg, Input: entry}
}

// LockParse builds a fatal lockfile parse error.
func LockParse(op, msg, entry string) *Error {
	return &Error{Kind: KindLockParse, Op: op, Message: msg, Input: entry}
}

// ConstraintSyntax builds a fatal constraint syntax error. raw is the raw
// expression that failed to parse.
func ConstraintSyntax(op, raw string, err error) *Error {
	return &Error{Kind: KindConstraintSyntax, Op: op, Message: "invalid version constraint", Input: raw, Err: err}
}

// Cycle builds a fatal cyclic-dependency error. chain is the cycle rendered
// as "A -> B -> A".
func Cycle(op, chain string) *Error {
	return &Error{Kind: KindCycle, Op: op, Message: "dependency cycle detected: " + chain}
}

// =============================================================================
// Predicates
// =============================================================================

// IsKind reports whether err (or any error it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsManifestParse reports whether err is a manifest parse error.
func IsManifestParse(err error) bool { return IsKind(err, KindManifestParse) }

// IsLockParse reports whether err is a lockfile parse error.
func IsLockParse(err error) bool { return IsKind(err, KindLockParse) }

// IsConstraintSyntax reports whether err is a constraint syntax error.
func IsConstraintSyntax(err error) bool { return IsKind(err, KindConstraintSyntax) }

// IsCycle reports whether err is a cyclic-dependency error.
func IsCycle(err error) bool { return IsKind(err, KindCycle) }

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsFatal reports whether err must abort the scan. Everything in the
// taxonomy except timeouts and network failures is fatal; those two only
// occur inside best-effort enrichment and degrade to warnings there.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		// Unclassified errors abort: the engine cannot reason about them.
		return true
	}
	switch e.Kind {
	case KindTimeout, KindNetwork, KindNotFound:
		return false
	default:
		return true
	}
}

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	return e.Kind
}
