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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRCM/services/rcm_agent/agent/tools"
)

// MaxAuditIterations caps the audit/re-extract loop. When the cap is
// reached the auditor returns a partial answer instead of looping again.
const MaxAuditIterations = 3

// EvidenceKind classifies evidence for intent filtering in the composer.
type EvidenceKind string

const (
	// KindMedication is evidence about active medications.
	KindMedication EvidenceKind = "medication"

	// KindAllergy is evidence about recorded allergies.
	KindAllergy EvidenceKind = "allergy"

	// KindInteraction is evidence about drug-drug interactions.
	KindInteraction EvidenceKind = "interaction"

	// KindDocument is evidence extracted from an attached document.
	KindDocument EvidenceKind = "document"

	// KindPolicy is evidence from payer policy search.
	KindPolicy EvidenceKind = "policy"

	// KindDenial is evidence from denial risk scoring.
	KindDenial EvidenceKind = "denial"
)

// Evidence is one claim with its citation.
type Evidence struct {
	// Claim is the extracted statement, PII-scrubbed.
	Claim string `json:"claim"`

	// CitationText is the verbatim text the claim cites.
	CitationText string `json:"citation_text"`

	// SourceID identifies the source the citation came from
	// (e.g. "medications:P001", "document:progress_note.pdf").
	SourceID string `json:"source_identifier"`

	// Verbatim marks citations that must appear in the source content.
	Verbatim bool `json:"verbatim"`

	// Synthetic marks tool-computed evidence (denial scores, policy
	// matches) that is exempt from verbatim verification.
	Synthetic bool `json:"synthetic,omitempty"`

	// Ambiguous marks the placeholder entry produced when no subject
	// could be resolved from the query.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Kind drives intent filtering in the composer.
	Kind EvidenceKind `json:"kind"`
}

// AuditResult records the verification outcome for one evidence entry.
type AuditResult struct {
	// EvidenceIndex is the index into WorkflowState.Evidence.
	EvidenceIndex int `json:"evidence_index"`

	// Verified is true when the citation passed verification.
	Verified bool `json:"verified"`

	// Reason explains a failure; empty on success.
	Reason string `json:"reason,omitempty"`
}

// MarkerRef is a compact reference to a staged clinical marker, used in
// sync summaries shown to the user.
type MarkerRef struct {
	// MarkerName is the marker or LOINC display name.
	MarkerName string `json:"marker_name"`

	// MarkerValue is the normalized value with units.
	MarkerValue string `json:"marker_value"`
}

// SyncSummary describes what a confirmed sync would write.
type SyncSummary struct {
	// New lists markers not yet present in the synced record.
	New []MarkerRef `json:"new"`

	// Existing lists markers already synced for this subject.
	Existing []MarkerRef `json:"existing"`

	// TotalRaw is the raw marker count before deduplication.
	TotalRaw int `json:"total_raw"`
}

// QueryAnalysis is the planner's structured reading of a query.
type QueryAnalysis struct {
	// NeedsSubject is true when the query is about a specific patient.
	NeedsSubject bool `json:"needs_subject"`

	// NeedsDocEvidence is true when the answer must come from an
	// attached document.
	NeedsDocEvidence bool `json:"needs_document_evidence"`

	// NeedsPolicyCheck is true when payer policy criteria apply.
	NeedsPolicyCheck bool `json:"needs_policy_check"`

	// NeedsDenialAnalysis is true when denial risk should be scored.
	NeedsDenialAnalysis bool `json:"needs_denial_analysis"`

	// IsGeneralKnowledge is true for questions answerable without tools.
	IsGeneralKnowledge bool `json:"is_general_knowledge"`

	// SubjectQuery is the patient name or ID mentioned in the query,
	// possibly resolved from the session cache for pronouns.
	SubjectQuery string `json:"subject_query,omitempty"`

	// PayerName is the payer mentioned, if any.
	PayerName string `json:"payer_name,omitempty"`

	// ProcedureID is the procedure mentioned, if any.
	ProcedureID string `json:"procedure_id,omitempty"`

	// Medications lists drug names mentioned in the query.
	Medications []string `json:"medications,omitempty"`
}

// Message is one entry of the per-session conversation history.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// WorkflowState is the complete state of one workflow turn plus the
// per-session caches that survive across turns.
//
// The state is persisted after every turn and reloaded on resume, so a
// suspended turn (clarification or sync confirmation) loses nothing.
type WorkflowState struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// RawQuery is the user query for this turn, unmodified.
	RawQuery string `json:"raw_query"`

	// Intent is the router's classification.
	Intent Intent `json:"intent,omitempty"`

	// ToolPlan is the ordered list of tool names to execute.
	ToolPlan []string `json:"tool_plan,omitempty"`

	// Evidence holds the extracted claims with citations.
	Evidence []Evidence `json:"evidence,omitempty"`

	// AuditResults holds per-evidence verification outcomes.
	AuditResults []AuditResult `json:"audit_results,omitempty"`

	// IterationCount is the number of audit loops consumed (0..3).
	IterationCount int `json:"iteration_count"`

	// Confidence is the current confidence score in [0,1].
	Confidence float64 `json:"confidence"`

	// Decision is the auditor's routing decision.
	Decision Decision `json:"routing_decision,omitempty"`

	// MissingFlags accumulates insufficient-documentation notes across
	// audit iterations.
	MissingFlags []string `json:"insufficient_documentation_flags,omitempty"`

	// PendingInput is true while the turn is suspended on a question.
	PendingInput bool `json:"pending_user_input,omitempty"`

	// ClarificationQuestion is the PII-scrubbed question shown to the user.
	ClarificationQuestion string `json:"clarification_question,omitempty"`

	// ClarificationResponse is the user's answer, injected on resume.
	ClarificationResponse string `json:"clarification_response,omitempty"`

	// PendingConfirmation is true while the turn is suspended on the
	// sync gate.
	PendingConfirmation bool `json:"pending_sync_confirmation,omitempty"`

	// SyncSummary describes what a confirmed sync would write.
	SyncSummary *SyncSummary `json:"sync_summary,omitempty"`

	// FinalResponse is the composed answer, set exactly when the turn is
	// done.
	FinalResponse string `json:"final_response,omitempty"`

	// Error holds a terminal error message, if any.
	Error string `json:"error,omitempty"`

	// ToolTrace records executed tool names in order, across iterations.
	ToolTrace []string `json:"tool_trace,omitempty"`

	// Analysis is the planner's reading of the query.
	Analysis *QueryAnalysis `json:"analysis,omitempty"`

	// SourceContents maps source identifiers to the content citations
	// are verified against. Rebuilt by the executor each iteration.
	SourceContents map[string]string `json:"source_contents,omitempty"`

	// DraftResponse holds the composed answer while the turn is
	// suspended on the sync gate; it becomes FinalResponse only after
	// the gate resolves, keeping the suspension invariant intact.
	DraftResponse string `json:"draft_response,omitempty"`

	// --- Per-session caches, carried across turns ---

	// CachedSubject is the last resolved subject record.
	CachedSubject *tools.Subject `json:"cached_subject,omitempty"`

	// DocPages caches extracted document pages for the attached document.
	DocPages []string `json:"doc_pages,omitempty"`

	// DocContentHash keys the page cache; extraction is skipped while the
	// attached document hashes to the same value.
	DocContentHash string `json:"doc_content_hash,omitempty"`

	// DocSourceFile is the display name of the attached document.
	DocSourceFile string `json:"doc_source_file,omitempty"`

	// PolicyCache holds the last payer policy result keyed by procedure.
	PolicyCache map[string]string `json:"policy_cache,omitempty"`

	// DenialRiskCache holds the last denial risk result per procedure.
	DenialRiskCache map[string]string `json:"denial_risk_cache,omitempty"`

	// PriorQueryContext summarizes the previous turn for pronoun
	// resolution and topic-change detection.
	PriorQueryContext string `json:"prior_query_context,omitempty"`

	// Messages is the conversation history for this session.
	Messages []Message `json:"messages,omitempty"`

	// StagedSubjectID is the subject whose markers are staged for sync.
	StagedSubjectID string `json:"staged_subject_id,omitempty"`
}

// NewWorkflowState creates the state for a fresh turn, carrying the
// per-session caches forward from the previous turn.
//
// Inputs:
//
//	sessionID - Owning session
//	query - The raw user query
//	prior - Previous turn's state, or nil for a brand new session
//
// Outputs:
//
//	*WorkflowState - State ready for the ROUTE node
func NewWorkflowState(sessionID, query string, prior *WorkflowState) *WorkflowState {
	st := &WorkflowState{
		SessionID:  sessionID,
		RawQuery:   query,
		Confidence: 0,
	}
	if prior != nil {
		st.CachedSubject = prior.CachedSubject
		st.DocPages = prior.DocPages
		st.DocContentHash = prior.DocContentHash
		st.DocSourceFile = prior.DocSourceFile
		st.PolicyCache = prior.PolicyCache
		st.DenialRiskCache = prior.DenialRiskCache
		st.PriorQueryContext = prior.PriorQueryContext
		st.Messages = prior.Messages
		st.StagedSubjectID = prior.StagedSubjectID
		st.PendingConfirmation = prior.PendingConfirmation
		// The summary only crosses turns while the sync gate is open;
		// otherwise it describes a finished comparison and would go stale.
		if prior.PendingConfirmation {
			st.SyncSummary = prior.SyncSummary
		}
	}
	return st
}

// CheckExclusive enforces the suspension invariant: exactly one of
// {final response, pending input, pending confirmation} is set when a
// turn leaves the engine.
//
// Outputs:
//
//	error - Non-nil when zero or more than one outcome is set
func (s *WorkflowState) CheckExclusive() error {
	n := 0
	if s.FinalResponse != "" {
		n++
	}
	if s.PendingInput {
		n++
	}
	if s.PendingConfirmation {
		n++
	}
	if n != 1 {
		return fmt.Errorf("workflow state has %d terminal outcomes, want exactly 1", n)
	}
	return nil
}

// ClearPendingFlags drops stale suspension flags. Called when the subject
// or topic changes between turns so an old gate cannot capture an
// unrelated query.
func (s *WorkflowState) ClearPendingFlags() {
	s.PendingInput = false
	s.ClarificationQuestion = ""
	s.PendingConfirmation = false
	s.SyncSummary = nil
}

// AppendMessage adds a conversation history entry, keeping the most
// recent 50 messages.
func (s *WorkflowState) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, At: time.Now().UTC()})
	if len(s.Messages) > 50 {
		s.Messages = s.Messages[len(s.Messages)-50:]
	}
}
