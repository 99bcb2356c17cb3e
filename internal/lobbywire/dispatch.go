package lobbywire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// ReasonedError is a domain error carrying a `reason` from a
// per-command allowed set and an opaque `details` string (spec §4.6
// Error taxonomy). internal/adapter's RequestError implements this;
// lobbywire only depends on the interface so it never imports adapter,
// mirroring the teacher's typed `gameserver.Reason*` constants
// generalized from an integer enum to a per-command string set.
type ReasonedError interface {
	error
	Reason() string
	Details() string
}

// Command is one entry of the fixed dispatch registry (spec §4.6 step
// 2). Decode validates and unmarshals the request payload — a schema
// violation is reported as an error and mapped to `invalid_request`.
// Handler performs the actual request; an error satisfying
// ReasonedError whose Reason() is in AllowedReasons is passed through
// verbatim, anything else collapses to `internal_error`.
type Command struct {
	Decode         func(data json.RawMessage) (any, error)
	Handler        func(ctx context.Context, req any) (any, error)
	AllowedReasons map[string]bool
}

// Registry maps commandId to its Command (spec §4.6 "fixed registry").
type Registry map[string]Command

// Dispatch resolves env against registry and returns the response
// envelope to send back (spec §4.6 steps 2-3). env.MessageID and
// env.CommandID are echoed back verbatim on both success and failure.
func Dispatch(ctx context.Context, registry Registry, env InEnvelope) OutEnvelope {
	cmd, ok := registry[env.CommandID]
	if !ok {
		return FailedResponse(env.CommandID, env.MessageID, "command_unimplemented", "")
	}

	req, err := cmd.Decode(env.Data)
	if err != nil {
		return FailedResponse(env.CommandID, env.MessageID, "invalid_request", err.Error())
	}

	result, err := cmd.Handler(ctx, req)
	if err != nil {
		reason, details := classify(err, cmd.AllowedReasons)
		return FailedResponse(env.CommandID, env.MessageID, reason, details)
	}
	return SuccessResponse(env.CommandID, env.MessageID, result)
}

// classify maps a handler error to a response reason/details pair
// (spec §4.6 Error taxonomy): a ReasonedError whose Reason() is in the
// command's allowed set passes through; anything else is logged and
// folded to internal_error with no details, since an unexpected error
// message is not part of any command's contract.
func classify(err error, allowed map[string]bool) (reason, details string) {
	var re ReasonedError
	if errors.As(err, &re) && allowed[re.Reason()] {
		return re.Reason(), re.Details()
	}
	slog.Error("lobbywire: handler error outside allowed reasons", "err", err)
	return "internal_error", ""
}
