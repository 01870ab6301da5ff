// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "errors"

// Sentinel errors for the agent package.
var (
	// ErrInvalidTransition indicates an invalid workflow transition was attempted.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy indicates another turn is already running on the session.
	ErrSessionBusy = errors.New("session turn already in progress")

	// ErrEmptyQuery indicates the query is empty.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrNotAwaitingClarification indicates a clarification resume was
	// attempted but the session has no suspended question.
	ErrNotAwaitingClarification = errors.New("session not awaiting clarification")

	// ErrNotAwaitingConfirmation indicates a sync reply was submitted but
	// the session has no pending confirmation gate.
	ErrNotAwaitingConfirmation = errors.New("session not awaiting sync confirmation")

	// ErrLLMUnavailable indicates the LLM backend is unavailable.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrStateCorrupt indicates a persisted workflow state failed to decode.
	ErrStateCorrupt = errors.New("persisted workflow state corrupt")

	// ErrSyncUnsupported indicates the EHR backend cannot accept
	// observation writes; markers are promoted locally instead.
	ErrSyncUnsupported = errors.New("EHR observation write unsupported")
)
