// Package errs holds the error taxonomy of the sync engine.
//
// It re-exports github.com/cockroachdb/errors so callers get stack traces,
// hints and marks from one import, and defines the categories every
// failure is classified into:
//
//	ErrConfiguration        missing or invalid relay endpoints; fatal until corrected
//	ErrConnection           relay unreachable or dropped; retryable
//	ErrCache                local cache read/write failure; always recovered locally
//	ErrNotFound             event absent after every lookup strategy
//	ErrPublishPrecondition  publish rejected before any network I/O
//
// Usage:
//
//	if err := relay.Connect(ctx); err != nil {
//	    return errs.Connection(err, "connect to %s", url)
//	}
//	if errs.Is(err, errs.ErrConnection) {
//	    // offer retry
//	}
package errs

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and inspection
var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	WithHint = crdb.WithHint
	Is       = crdb.Is
	As       = crdb.As
	Mark     = crdb.Mark

	FlattenHints = crdb.FlattenHints
)

// Categories
var (
	ErrConfiguration       = crdb.New("configuration error")
	ErrConnection          = crdb.New("connection error")
	ErrCache               = crdb.New("cache error")
	ErrNotFound            = crdb.New("not found")
	ErrPublishPrecondition = crdb.New("publish precondition failed")
)

// Publish preconditions. Both are marked as ErrPublishPrecondition.
var (
	ErrNotConnected  = crdb.Mark(crdb.New("not connected to any relay"), ErrPublishPrecondition)
	ErrNoSigningKey  = crdb.Mark(crdb.New("no signing key available"), ErrPublishPrecondition)
	ErrShutdown      = crdb.New("synchronizer shut down")
	ErrNoRelayConfig = crdb.Mark(crdb.New("no relay endpoint configured"), ErrConfiguration)
)

func classify(category error, cause error, format string, args ...interface{}) error {
	var err error
	if cause == nil {
		err = crdb.Newf(format, args...)
	} else {
		err = crdb.Wrapf(cause, format, args...)
	}
	return crdb.Mark(err, category)
}

// Configuration marks a configuration failure.
func Configuration(cause error, format string, args ...interface{}) error {
	return classify(ErrConfiguration, cause, format, args...)
}

// Connection marks a relay connectivity failure and attaches a retry hint.
func Connection(cause error, format string, args ...interface{}) error {
	return crdb.WithHint(classify(ErrConnection, cause, format, args...),
		"the cached view is still available; retry once a relay is reachable")
}

// Cache marks a local cache failure.
func Cache(cause error, format string, args ...interface{}) error {
	return classify(ErrCache, cause, format, args...)
}

// NotFound marks a lookup that exhausted every strategy.
func NotFound(format string, args ...interface{}) error {
	return classify(ErrNotFound, nil, format, args...)
}

// Category returns the sentinel err belongs to, or nil when unclassified.
func Category(err error) error {
	for _, c := range []error{ErrConfiguration, ErrConnection, ErrCache, ErrNotFound, ErrPublishPrecondition} {
		if crdb.Is(err, c) {
			return c
		}
	}
	return nil
}
