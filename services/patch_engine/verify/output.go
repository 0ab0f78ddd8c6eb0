// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// BoundOutput tail-truncates command output to a byte budget.
//
// Description:
//
//	Test runners print their summary last, so the tail is the part
//	worth keeping for storage and feedback. The output is chunked on
//	line boundaries and chunks are kept from the end until the budget
//	is spent.
//
// Inputs:
//
//	output - Raw command output
//	maxBytes - Byte budget; non-positive means no bound
//
// Outputs:
//
//	string - The bounded output
//	bool - True if anything was dropped
func BoundOutput(output string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(output) <= maxBytes {
		return output, false
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSizeFor(maxBytes)),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n", " ", ""}),
	)

	chunks, err := splitter.SplitText(output)
	if err != nil || len(chunks) == 0 {
		return output[len(output)-maxBytes:], true
	}

	var kept []string
	total := 0
	for i := len(chunks) - 1; i >= 0; i-- {
		c := chunks[i]
		if total+len(c)+1 > maxBytes {
			break
		}
		kept = append([]string{c}, kept...)
		total += len(c) + 1
	}

	if len(kept) == 0 {
		tail := chunks[len(chunks)-1]
		if len(tail) > maxBytes {
			tail = tail[len(tail)-maxBytes:]
		}
		return tail, true
	}

	return strings.Join(kept, "\n"), true
}

// chunkSizeFor keeps chunks small relative to the budget so the tail
// cut lands near a line boundary.
func chunkSizeFor(maxBytes int) int {
	size := maxBytes / 4
	if size < 16 {
		size = 16
	}
	if size > 1024 {
		size = 1024
	}
	return size
}
