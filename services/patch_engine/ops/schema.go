// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	_ "embed"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// validateSchema checks an extracted operations array against the
// wire schema before any Operation is constructed. Violations come
// back as one ParseError listing every failing constraint so the
// next generation attempt gets complete feedback.
func validateSchema(opsDoc string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewStringLoader(opsDoc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &ParseError{Msg: "operations failed schema load: " + err.Error()}
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		msgs = append(msgs, schemaErr.String())
	}
	return &ParseError{Msg: "operations failed schema validation: " + strings.Join(msgs, "; ")}
}
