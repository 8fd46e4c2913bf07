// Package faults maps the exporter's failure taxonomy onto structured error codes.
//
// Every failure is caught at the smallest unit that can absorb it (a package,
// a repository or a platform) and converted into a recorded outcome. The helpers
// here only attach a code so callers can log and count failures consistently.
package faults

import (
	"errors"
	"net"

	perrors "github.com/jmgilman/go/errors"
)

// CodeSignaturePolicy marks a package with a missing or untrusted signature.
const CodeSignaturePolicy perrors.ErrorCode = "SIGNATURE_POLICY"

// Kind names a taxonomy bucket for logs and metrics.
type Kind string

const (
	KindTransient     Kind = "transient_service"
	KindDataIntegrity Kind = "data_integrity"
	KindPolicy        Kind = "policy_violation"
	KindConfiguration Kind = "configuration"
	KindParse         Kind = "parse"
	KindUnknown       Kind = "unknown"
)

// Transient wraps a network or remote-server failure of an external service.
// It is never retried in-process.
func Transient(err error, message string) error {
	if err == nil {
		return nil
	}
	code := perrors.CodeUnavailable
	var netErr net.Error
	if errors.As(err, &netErr) {
		code = perrors.CodeNetwork
	}
	return perrors.Wrap(err, code, message)
}

// DataIntegrity wraps an unreadable artifact (package header, signature block).
func DataIntegrity(err error, message string) error {
	if err == nil {
		return nil
	}
	return perrors.Wrap(err, perrors.CodeInvalidInput, message)
}

// Policy reports a signature policy violation.
func Policy(format string, args ...interface{}) error {
	return perrors.Newf(CodeSignaturePolicy, format, args...)
}

// Configuration reports a missing or invalid setting.
func Configuration(format string, args ...interface{}) error {
	return perrors.Newf(perrors.CodeInvalidConfig, format, args...)
}

// Parse wraps malformed metadata.
func Parse(err error, message string) error {
	if err == nil {
		return nil
	}
	return perrors.Wrap(err, perrors.CodeSchemaFailed, message)
}

// KindOf classifies err into a taxonomy bucket.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	switch perrors.GetCode(err) {
	case perrors.CodeNetwork, perrors.CodeUnavailable, perrors.CodeTimeout, perrors.CodeRateLimit:
		return KindTransient
	case perrors.CodeInvalidInput:
		return KindDataIntegrity
	case CodeSignaturePolicy:
		return KindPolicy
	case perrors.CodeInvalidConfig:
		return KindConfiguration
	case perrors.CodeSchemaFailed:
		return KindParse
	default:
		return KindUnknown
	}
}
