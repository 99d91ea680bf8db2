package entity

import "errors"

var (
	// ErrEmptyPrompt is raised when a request's messages contain no
	// usable prompt content (B1: empty prompt → BadRequest).
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrOnlySystemMessages is raised when a request carries only
	// system-role messages (B2: only-system messages → BadRequest).
	ErrOnlySystemMessages = errors.New("only system messages present")

	// ErrUnknownModel is raised when the requested model id is not in
	// the parsed catalogue.
	ErrUnknownModel = errors.New("unknown model id")

	// ErrClientDisconnected is the checkpoint sentinel (spec §4.4,
	// Glossary "Checkpoint"): any pipeline stage that calls a
	// disconnect checkpoint while the client has gone away receives
	// this, win or lose — it always unwinds to the pipeline's error
	// handler rather than being treated as a normal stage failure.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrSubmitNeverEnabled is raised when the submit control never
	// becomes clickable within its timeout (spec §4.7 step 7).
	ErrSubmitNeverEnabled = errors.New("submit control never enabled")

	// ErrModelSwitchFailed is raised when a model switch cannot be
	// confirmed after reload (spec §4.7 step 3, UnprocessableEntity).
	ErrModelSwitchFailed = errors.New("model switch failed")
)
