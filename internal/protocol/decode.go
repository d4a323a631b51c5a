package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeOutcome classifies how an inbound assign-subject payload parsed,
// so the pipeline knows whether to discard, dead-letter, or proceed.
type DecodeOutcome int

const (
	// DecodeOK means Assignment is populated and ready to run.
	DecodeOK DecodeOutcome = iota
	// DecodeDiscard means a well-formed envelope carried an unexpected
	// kind; log and drop, no dead-letter.
	DecodeDiscard
	// DecodeError means an envelope of kind exec_assign failed to yield a
	// valid Assignment from its data field; dead-letter as DECODE_ERROR.
	DecodeError
	// DecodeParseError means neither envelope nor bare-assignment shape
	// parsed; dead-letter as PARSE_ERROR.
	DecodeParseError
)

// DecodeAssignment implements the two-shape tolerance for the assign
// subject: (a) a well-formed envelope whose kind must be exec_assign, or
// (b) a bare assignment object, tried when envelope parsing fails.
func DecodeAssignment(payload []byte) (*Assignment, DecodeOutcome, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Kind != "" {
		if env.Kind != KindExecAssign {
			return nil, DecodeDiscard, fmt.Errorf("protocol: unexpected envelope kind %q on assign subject", env.Kind)
		}
		var a Assignment
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, DecodeError, fmt.Errorf("protocol: decode envelope data: %w", err)
		}
		return &a, DecodeOK, nil
	}

	var a Assignment
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, DecodeParseError, fmt.Errorf("protocol: parse assignment: %w", err)
	}
	return &a, DecodeOK, nil
}

// IsValidSubject reports whether s is a legal bus subject: non-empty,
// restricted to [A-Za-z0-9._-], no leading/trailing dot, no "..".
func IsValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	if s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return false
		}
	}
	return true
}
