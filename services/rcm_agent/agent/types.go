// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the clinical Q&A workflow for the RCM service.
//
// The workflow is a bounded, resumable, cyclic state machine:
//
//	ROUTE → PLAN → EXECUTE → (COMPARE) → AUDIT → {EXECUTE | CLARIFY | COMPOSE}
//
// The auditor is the only node that routes. Every answer is assembled from
// evidence whose citations are verified verbatim against source content;
// unverifiable citations trigger bounded re-extraction, then a partial
// answer. The workflow can suspend twice: for a clarification question and
// for a sync confirmation before staged clinical markers are written out.
//
// Thread Safety:
//
//	The Engine is safe for concurrent use across sessions. A single
//	session admits one active turn at a time (see Session.TryAcquire).
package agent

// Node identifies a workflow node.
type Node string

const (
	// NodeIdle is the initial state before a turn starts.
	NodeIdle Node = "IDLE"

	// NodeRoute classifies intent and short-circuits out-of-scope queries.
	NodeRoute Node = "ROUTE"

	// NodePlan resolves the subject and builds the tool plan.
	NodePlan Node = "PLAN"

	// NodeExecute runs the tool plan and extracts evidence.
	NodeExecute Node = "EXECUTE"

	// NodeCompare stages document-derived markers and dedupes them.
	NodeCompare Node = "COMPARE"

	// NodeAudit verifies citations and makes the routing decision.
	NodeAudit Node = "AUDIT"

	// NodeClarify suspends the turn waiting for user input.
	NodeClarify Node = "CLARIFY"

	// NodeSync writes confirmed markers to the EHR (or promotes locally).
	NodeSync Node = "SYNC"

	// NodeCompose builds the final response from verified evidence.
	NodeCompose Node = "COMPOSE"

	// NodeComplete is the terminal success state.
	NodeComplete Node = "COMPLETE"

	// NodeError is the terminal failure state.
	NodeError Node = "ERROR"
)

// String returns the string representation of the node.
func (n Node) String() string {
	return string(n)
}

// IsTerminal returns true for COMPLETE and ERROR.
func (n Node) IsTerminal() bool {
	return n == NodeComplete || n == NodeError
}

// IsSuspended returns true for nodes where the turn waits on the user.
func (n Node) IsSuspended() bool {
	return n == NodeClarify
}

// AllNodes returns every defined node.
func AllNodes() []Node {
	return []Node{
		NodeIdle, NodeRoute, NodePlan, NodeExecute, NodeCompare,
		NodeAudit, NodeClarify, NodeSync, NodeCompose, NodeComplete,
		NodeError,
	}
}

// Intent is the classified purpose of a user query.
type Intent string

const (
	// IntentMedications asks what a patient is taking.
	IntentMedications Intent = "MEDICATIONS"

	// IntentAllergies asks about recorded allergies.
	IntentAllergies Intent = "ALLERGIES"

	// IntentInteractions asks about drug-drug interactions.
	IntentInteractions Intent = "INTERACTIONS"

	// IntentSafetyCheck asks whether a medication is safe for a patient.
	IntentSafetyCheck Intent = "SAFETY_CHECK"

	// IntentGeneral is any other in-scope clinical or RCM question.
	IntentGeneral Intent = "GENERAL"

	// IntentOutOfScope is anything outside clinical documentation, meds,
	// interactions, allergy checks, and insurance verification.
	IntentOutOfScope Intent = "OUT_OF_SCOPE"
)

// String returns the string representation of the intent.
func (i Intent) String() string {
	return string(i)
}

// Valid reports whether the intent is one of the defined values.
func (i Intent) Valid() bool {
	switch i {
	case IntentMedications, IntentAllergies, IntentInteractions,
		IntentSafetyCheck, IntentGeneral, IntentOutOfScope:
		return true
	}
	return false
}

// Decision is the auditor's routing decision for a turn.
type Decision string

const (
	// DecisionPass means every citation verified; compose the answer.
	DecisionPass Decision = "PASS"

	// DecisionMissing means at least one citation failed; re-extract.
	DecisionMissing Decision = "MISSING"

	// DecisionAmbiguous means the subject could not be resolved; ask.
	DecisionAmbiguous Decision = "AMBIGUOUS"

	// DecisionPartial means the iteration cap was reached with gaps.
	DecisionPartial Decision = "PARTIAL"

	// DecisionOutOfScope marks a refused query.
	DecisionOutOfScope Decision = "OUT_OF_SCOPE"

	// DecisionSyncComplete marks a turn that executed a confirmed sync.
	DecisionSyncComplete Decision = "SYNC_COMPLETE"
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	return string(d)
}

// RunStatus describes how a turn ended.
type RunStatus string

const (
	// RunDone means the turn produced a final response.
	RunDone RunStatus = "DONE"

	// RunAwaitingClarification means the turn is suspended on a question.
	RunAwaitingClarification RunStatus = "AWAITING_CLARIFICATION"

	// RunAwaitingConfirmation means the turn is suspended on a sync gate.
	RunAwaitingConfirmation RunStatus = "AWAITING_CONFIRMATION"
)

// RunResult is the outcome of one workflow turn.
type RunResult struct {
	// Status describes how the turn ended.
	Status RunStatus `json:"status"`

	// Response is the final response text (set when Status is RunDone).
	Response string `json:"response,omitempty"`

	// Question is the clarification question (RunAwaitingClarification).
	Question string `json:"question,omitempty"`

	// SyncSummary describes staged markers (RunAwaitingConfirmation).
	SyncSummary *SyncSummary `json:"sync_summary,omitempty"`

	// Intent is the classified intent of the turn's query.
	Intent Intent `json:"intent,omitempty"`

	// Decision is the auditor's routing decision.
	Decision Decision `json:"decision"`

	// Confidence is the final confidence score in [0,1].
	Confidence float64 `json:"confidence"`

	// Iterations is how many audit loops the turn consumed.
	Iterations int `json:"iterations"`

	// ToolsUsed lists the tools executed, in order.
	ToolsUsed []string `json:"tools_used,omitempty"`
}
