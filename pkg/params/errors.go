package params

import (
	"fmt"
	"strings"
)

// ProcessingError reports a payload that could not be repaired or that
// failed schema validation after repair.
type ProcessingError struct {
	// Field is the dotted path of the offending field; empty when the payload
	// as a whole could not be parsed.
	Field string
	// Token is the input fragment the parser stopped at, when known.
	Token  string
	Reason string
	// Issues lists every validation failure, Field/Reason describe the first.
	Issues []string
}

func (e *ProcessingError) Error() string {
	var b strings.Builder
	b.WriteString("parameter processing failed")
	if e.Field != "" {
		fmt.Fprintf(&b, " at field %q", e.Field)
	}
	if e.Token != "" {
		fmt.Fprintf(&b, " near %q", e.Token)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}
