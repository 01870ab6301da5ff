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
	"sync"
)

// StateMachine manages valid node transitions for the workflow.
//
// The state machine enforces the following transition graph:
//
//	IDLE → ROUTE                 : User query received
//	IDLE → SYNC                  : Sync confirmation received
//	ROUTE → PLAN                 : In-scope intent classified
//	ROUTE → COMPOSE              : Out-of-scope refusal
//	PLAN → EXECUTE               : Tool plan assembled
//	PLAN → COMPOSE               : Required source unavailable
//	EXECUTE → COMPARE            : Document markers extracted
//	EXECUTE → AUDIT              : Evidence extracted, nothing to stage
//	COMPARE → AUDIT              : Markers staged and deduplicated
//	AUDIT → EXECUTE              : Citation failed, re-extract
//	AUDIT → CLARIFY              : Subject ambiguous, need user input
//	AUDIT → COMPOSE              : Pass or partial
//	CLARIFY → PLAN               : User provided clarification
//	SYNC → COMPOSE               : Sync executed, report the outcome
//	COMPOSE → COMPLETE           : Final response emitted
//	* → ERROR                    : Any active node can fail
//
// The auditor is the only node with more than one forward edge into the
// loop; every cycle passes through it.
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[Node]map[Node]bool
}

// NewStateMachine creates a new state machine with all valid transitions.
//
// Outputs:
//
//	*StateMachine - Configured state machine
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[Node]map[Node]bool),
	}

	for _, node := range AllNodes() {
		sm.transitions[node] = make(map[Node]bool)
	}

	sm.addTransition(NodeIdle, NodeRoute)
	sm.addTransition(NodeIdle, NodeSync)

	sm.addTransition(NodeRoute, NodePlan)
	sm.addTransition(NodeRoute, NodeCompose)

	sm.addTransition(NodePlan, NodeExecute)
	sm.addTransition(NodePlan, NodeCompose)

	sm.addTransition(NodeExecute, NodeCompare)
	sm.addTransition(NodeExecute, NodeAudit)

	sm.addTransition(NodeCompare, NodeAudit)

	sm.addTransition(NodeAudit, NodeExecute)
	sm.addTransition(NodeAudit, NodeClarify)
	sm.addTransition(NodeAudit, NodeCompose)

	sm.addTransition(NodeClarify, NodePlan)

	sm.addTransition(NodeSync, NodeCompose)

	sm.addTransition(NodeCompose, NodeComplete)

	// Any active node can fail.
	for _, node := range AllNodes() {
		if !node.IsTerminal() {
			sm.addTransition(node, NodeError)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to Node) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one node to another is valid.
//
// Inputs:
//
//	from - Current node
//	to - Target node
//
// Outputs:
//
//	bool - True if the transition is valid
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to Node) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition attempts to move a session from its current node to another.
//
// Inputs:
//
//	session - The session to transition
//	to - Target node
//
// Outputs:
//
//	error - ErrInvalidTransition if the transition is not allowed
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) Transition(session *Session, to Node) error {
	from := session.GetNode()

	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	session.SetNode(to)
	return nil
}

// ValidTransitionsFrom returns all valid transitions from a given node.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from Node) []Node {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []Node
	if toMap, ok := sm.transitions[from]; ok {
		for node, valid := range toMap {
			if valid {
				result = append(result, node)
			}
		}
	}
	return result
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()
