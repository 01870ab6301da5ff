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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	valid := [][2]Node{
		{NodeIdle, NodeRoute},
		{NodeIdle, NodeSync},
		{NodeRoute, NodePlan},
		{NodeRoute, NodeCompose},
		{NodePlan, NodeExecute},
		{NodePlan, NodeCompose},
		{NodeExecute, NodeCompare},
		{NodeExecute, NodeAudit},
		{NodeCompare, NodeAudit},
		{NodeAudit, NodeExecute},
		{NodeAudit, NodeClarify},
		{NodeAudit, NodeCompose},
		{NodeClarify, NodePlan},
		{NodeSync, NodeCompose},
		{NodeCompose, NodeComplete},
	}
	for _, pair := range valid {
		assert.True(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestInvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalid := [][2]Node{
		{NodeIdle, NodeExecute},
		{NodeRoute, NodeAudit},
		{NodePlan, NodeAudit},
		{NodeExecute, NodeCompose},
		{NodeCompare, NodeExecute},
		{NodeClarify, NodeExecute},
		{NodeSync, NodeRoute},
		{NodeComplete, NodeRoute},
		{NodeError, NodeRoute},
	}
	for _, pair := range invalid {
		assert.False(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestAnyActiveNodeCanError(t *testing.T) {
	sm := NewStateMachine()

	for _, node := range AllNodes() {
		if node.IsTerminal() {
			assert.False(t, sm.CanTransition(node, NodeError), "%s is terminal", node)
			continue
		}
		assert.True(t, sm.CanTransition(node, NodeError), "%s -> ERROR", node)
	}
}

func TestEveryCyclePassesThroughAudit(t *testing.T) {
	// The only backward edge in the graph is AUDIT -> EXECUTE; no other
	// node may route back into the loop.
	sm := NewStateMachine()

	for _, from := range AllNodes() {
		if from == NodeAudit {
			continue
		}
		assert.False(t, sm.CanTransition(from, NodeExecute) && from != NodePlan,
			"%s must not re-enter EXECUTE", from)
	}
}

func TestTransitionUpdatesSession(t *testing.T) {
	sm := NewStateMachine()
	sess, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	require.NoError(t, sm.Transition(sess, NodeRoute))
	assert.Equal(t, NodeRoute, sess.GetNode())

	err = sm.Transition(sess, NodeAudit)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, NodeRoute, sess.GetNode(), "failed transition leaves the node unchanged")
}
