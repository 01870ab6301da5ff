// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding verifies that claims are backed by their sources.
//
// The verifier is deliberately dumb: it tokenizes the citation and checks
// that every significant token appears verbatim in the source content.
// No fuzzy matching, no embeddings. A citation that cannot survive a
// substring check has no business backing a clinical claim.
package grounding

import (
	"strings"
)

// minTokenLength filters noise words after punctuation stripping. Tokens
// shorter than this are not checked.
const minTokenLength = 3

// citationPunct is stripped from both ends of every token before the
// substring check.
const citationPunct = `[]',".:()`

// VerifyCitation checks that a citation is verbatim-supported by source
// content.
//
// Description:
//
//	Splits the citation on whitespace, strips surrounding punctuation,
//	lowercases, drops tokens shorter than three characters, and requires
//	every remaining token to appear as a substring of the lowercased
//	source content.
//
// Inputs:
//
//	citation - The citation text to verify
//	source - The source content the citation must appear in
//
// Outputs:
//
//	bool - True when every significant token is found
//	string - The first missing token, empty on success
func VerifyCitation(citation, source string) (bool, string) {
	haystack := strings.ToLower(source)

	for _, token := range CitationTokens(citation) {
		if !strings.Contains(haystack, token) {
			return false, token
		}
	}
	return true, ""
}

// CitationTokens returns the significant tokens of a citation: lowercased,
// punctuation-stripped, at least three characters long.
func CitationTokens(citation string) []string {
	fields := strings.Fields(citation)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		token := strings.ToLower(strings.Trim(f, citationPunct))
		if len(token) >= minTokenLength {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
