// Package errors carries the pipeline error taxonomy. Failures are classified
// by kind, not by concrete type: resolvers and clients wrap their errors with
// a kind and the driver boundary decides the user-visible outcome from it.
package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Invalid or unsupported URL; surfaced as a usage-help reply.
	KindUserInput Kind = "user_input"
	// Resolver timed out after retries or the platform said no.
	KindPlatformUnavailable Kind = "platform_unavailable"
	// Artifact exceeds the transport's inline limit; handled by the
	// link-upload branch.
	KindQuotaOrSize Kind = "quota_or_size"
	// Messenger send/edit failed after retries.
	KindTransport Kind = "transport"
	// Send-by-handle rejected a cached handle; entry must be dropped.
	KindCacheStale Kind = "cache_stale"
	// Anything unexpected, caught at the driver boundary.
	KindInternal Kind = "internal"
)

type pipelineError struct {
	kind Kind
	err  error
}

func (e pipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err)
}

func (e pipelineError) Unwrap() error {
	return e.err
}

// Wrap tags err with a kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return pipelineError{kind: kind, err: err}
}

func Wrapf(kind Kind, format string, args ...interface{}) error {
	return pipelineError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, walking the wrap chain. Untagged errors are
// KindInternal.
func KindOf(err error) Kind {
	var pe pipelineError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

type unretriableError struct {
	err error
}

func (e unretriableError) Error() string {
	return e.err.Error()
}

func (e unretriableError) Unwrap() error {
	return e.err
}

// Unretriable marks an error as not worth retrying (bad input, 4xx responses,
// stale handles). Retry combinators stop immediately on these.
func Unretriable(err error) error {
	if err == nil {
		return nil
	}
	return unretriableError{err: err}
}

func IsUnretriable(err error) bool {
	var ue unretriableError
	return errors.As(err, &ue)
}
