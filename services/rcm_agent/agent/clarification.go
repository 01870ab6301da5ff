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

import (
	"context"
	"strings"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/redact"
)

// Clarifier suspends an ambiguous turn on a question to the user.
type Clarifier struct {
	scrubber *redact.Scrubber
}

// NewClarifier creates a clarifier.
func NewClarifier(scrubber *redact.Scrubber) *Clarifier {
	return &Clarifier{scrubber: scrubber}
}

// Suspend formulates the clarification question and pauses the turn.
//
// Description:
//
//	Builds a question naming what could not be resolved, scrubs it of
//	PII and sets PendingInput. The engine persists the full state, so
//	nothing gathered so far is lost while waiting for the answer.
//
// Inputs:
//
//	ctx - Context for the scrubbing call
//	state - The turn state; mutated in place
func (c *Clarifier) Suspend(ctx context.Context, state *WorkflowState) {
	question := c.buildQuestion(state)
	if c.scrubber != nil {
		question = c.scrubber.Scrub(ctx, question)
	} else {
		question = redact.ScrubPatterns(question)
	}

	state.ClarificationQuestion = question
	state.PendingInput = true
}

func (c *Clarifier) buildQuestion(state *WorkflowState) string {
	if state.Analysis != nil && state.Analysis.SubjectQuery != "" {
		return "I could not match \"" + state.Analysis.SubjectQuery +
			"\" to a patient record. Could you give the patient's full name or ID?"
	}
	return "I could not tell which patient this question is about. " +
		"Could you give the patient's full name or ID?"
}

// Resolve injects the user's answer into a suspended turn so planning
// can run again with the new information.
//
// Description:
//
//	Clears the suspension flags, records the answer and folds it into
//	the working query. The iteration count is untouched; clarification
//	rounds do not consume audit budget.
//
// Inputs:
//
//	state - The suspended turn state; mutated in place
//	answer - The user's reply to the clarification question
func (c *Clarifier) Resolve(state *WorkflowState, answer string) {
	answer = strings.TrimSpace(answer)
	state.ClarificationResponse = answer
	state.PendingInput = false
	state.ClarificationQuestion = ""

	// The answer usually names the subject the original query lacked.
	if state.Analysis != nil {
		state.Analysis.SubjectQuery = answer
		state.Analysis.NeedsSubject = true
	}
	state.RawQuery = state.RawQuery + " (" + answer + ")"
}
