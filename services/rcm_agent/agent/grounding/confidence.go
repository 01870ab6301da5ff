// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

const (
	// baseConfidence is the score for a clean first-pass verification.
	baseConfidence = 0.95

	// iterationDecay is subtracted per audit loop consumed.
	iterationDecay = 0.05

	// PartialConfidence is the fixed score for capped partial answers.
	PartialConfidence = 0.5

	// identityPenalty is subtracted when document-derived evidence could
	// not be matched to a verified subject record.
	identityPenalty = 0.45
)

// Confidence computes the score for a passing audit.
//
// Description:
//
//	Starts at 0.95 and decays by 0.05 per audit iteration consumed, so
//	answers that needed re-extraction are visibly less certain. When
//	unmatchedSubject is set the identity penalty is subtracted on top.
//	The result is clamped to [0,1].
//
// Inputs:
//
//	iterations - Audit loops consumed (0..3)
//	unmatchedSubject - True when document evidence has no matched subject
//
// Outputs:
//
//	float64 - Confidence in [0,1]
func Confidence(iterations int, unmatchedSubject bool) float64 {
	score := baseConfidence - iterationDecay*float64(iterations)
	if unmatchedSubject {
		score -= identityPenalty
	}
	return Clamp01(score)
}

// Clamp01 clamps a score to [0,1].
func Clamp01(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
