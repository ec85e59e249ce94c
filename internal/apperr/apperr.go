// Package apperr defines the error taxonomy shared by the adapters, the report
// pipeline and the CLI.
package apperr

import (
	"context"
	"errors"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

var (
	TagAuthentication = goerr.NewTag("authentication")
	TagNetwork        = goerr.NewTag("network")
	TagRemote         = goerr.NewTag("remote")
	TagValidation     = goerr.NewTag("validation")
	TagFileSystem     = goerr.NewTag("filesystem")
	TagEmail          = goerr.NewTag("email")
)

// Kind is a coarse classification of an error, used for user-facing messages.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindNetwork        Kind = "network"
	KindRemote         Kind = "remote"
	KindValidation     Kind = "validation"
	KindFileSystem     Kind = "filesystem"
	KindEmail          Kind = "email"
	KindUnknown        Kind = "unknown"
)

var kinds = []struct {
	tag  goerr.Tag
	kind Kind
}{
	{TagAuthentication, KindAuthentication},
	{TagNetwork, KindNetwork},
	{TagRemote, KindRemote},
	{TagValidation, KindValidation},
	{TagFileSystem, KindFileSystem},
	{TagEmail, KindEmail},
}

// Is reports whether err carries tag anywhere in its chain.
func Is(err error, tag goerr.Tag) bool {
	if err == nil {
		return false
	}
	return goerr.HasTag(err, tag)
}

// KindOf returns the first matching taxonomy kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	for _, k := range kinds {
		if goerr.HasTag(err, k.tag) {
			return k.kind
		}
	}
	return KindUnknown
}

// UserMessage maps err to a short message that is safe to show to a user.
// Transport details are never included.
func UserMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindAuthentication:
		return "The service rejected the stored credentials. Check the username and API key, then try again."
	case KindNetwork:
		return "The service could not be reached. Check the URL and your connection, then try again."
	case KindRemote:
		return "The service failed to process the request. Please try again later."
	case KindValidation:
		// validation messages are produced locally and describe the bad input
		return "Invalid configuration: " + err.Error()
	case KindFileSystem:
		return "The report file could not be written. Check the output directory and try again."
	case KindEmail:
		return "The report email could not be sent. Check the email settings and try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// Handle logs err with the context logger.
func Handle(ctx context.Context, err error) {
	ctxlog.From(ctx).Error("application error", "error", err, "kind", string(KindOf(err)))
}
