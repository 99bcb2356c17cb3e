package adapter

// RequestError is the Autohost Adapter's single domain error type (spec
// §4.6 Error taxonomy, §7): a `reason` drawn from a per-command allowed
// set plus an opaque `details` string. It satisfies
// `lobbywire.ReasonedError`. Handlers never construct RequestError
// directly — they call one of the per-reason constructors below, so
// the set of reasons a given handler can raise is visible at the call
// site rather than buried in a free-form string (the teacher's typed
// `gameserver.Reason*`/`serverpackets.Reason*` constant-enum idea,
// generalized from an integer code to a string reason).
type RequestError struct {
	reason  string
	details string
}

func (e *RequestError) Error() string   { return "adapter: " + e.reason + ": " + e.details }
func (e *RequestError) Reason() string  { return e.reason }
func (e *RequestError) Details() string { return e.details }

func errInvalidRequest(details string) *RequestError {
	return &RequestError{reason: "invalid_request", details: details}
}

func errBattleAlreadyExists(details string) *RequestError {
	return &RequestError{reason: "battle_already_exists", details: details}
}

func errAtCapacity(details string) *RequestError {
	return &RequestError{reason: "at_capacity", details: details}
}

func errNoFreePorts(details string) *RequestError {
	return &RequestError{reason: "no_free_ports", details: details}
}
