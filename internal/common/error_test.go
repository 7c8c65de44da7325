package common

import (
	"errors"
	"fmt"
	"testing"

	"defmtitm/internal/ocsd"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "Invalid SevNone",
			err:      NewError(ocsd.ErrSevNone, ocsd.OK),
			expected: "LIBRARY INTERNAL ERROR: Invalid Error Object",
		},
		{
			name:     "Invalid Sev Out of Bounds",
			err:      NewError(ocsd.ErrSeverity(99), ocsd.OK),
			expected: "LIBRARY INTERNAL ERROR: Invalid Error Object",
		},
		{
			name:     "Error Basic",
			err:      NewError(ocsd.ErrSevError, ocsd.ErrFail),
			expected: "ERROR:0x0001 (ERR_FAIL) [General failure.]; ",
		},
		{
			name:     "Warning with index",
			err:      NewErrorWithIdxMsg(ocsd.ErrSevWarn, ocsd.ErrResync, 12345, ""),
			expected: "WARN :0x0008 (ERR_RESYNC) [Stream resynchronised, bytes discarded.]; TrcIdx=12345; ",
		},
		{
			name:     "Error with msg",
			err:      NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDuplicateIndex, "index 3"),
			expected: "ERROR:0x000e (ERR_DUPLICATE_INDEX) [Duplicate index in format table.]; index 3",
		},
		{
			name:     "Error with Idx Msg",
			err:      NewErrorWithIdxMsg(ocsd.ErrSevWarn, ocsd.ErrInvalidPcktHdr, 42, "header 0x14"),
			expected: "WARN :0x0007 (ERR_INVALID_PCKT_HDR) [Invalid packet header]; TrcIdx=42; header 0x14",
		},
		{
			name:     "Error with Idx Chan Msg",
			err:      NewErrorWithIdxChanMsg(ocsd.ErrSevWarn, ocsd.ErrUnknownIndex, 10, 2, "index 99"),
			expected: "WARN :0x0012 (ERR_UNKNOWN_INDEX) [Frame index not present in format table.]; TrcIdx=10; CH=2; index 99",
		},
		{
			name:     "Unknown error code",
			err:      NewError(ocsd.ErrSevError, 9999),
			expected: "ERROR:0x270f (unknown); ",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.err.Error()
			if got != tc.expected {
				t.Errorf("Expected string: %q, got: %q", tc.expected, got)
			}
		})
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	sentinel := NewError(ocsd.ErrSevWarn, ocsd.ErrTruncated)
	err := fmt.Errorf("frame 7: %w", NewErrorWithIdxMsg(ocsd.ErrSevWarn, ocsd.ErrTruncated, 7, "u32 arg"))

	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped error to match sentinel")
	}
	if errors.Is(err, NewError(ocsd.ErrSevWarn, ocsd.ErrMalformed)) {
		t.Errorf("different code must not match")
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(ocsd.ErrResync); got != "ERR_RESYNC" {
		t.Errorf("unexpected name %q", got)
	}
	if got := CodeName(ocsd.Err(500)); got != "unknown" {
		t.Errorf("unexpected name %q", got)
	}
}

func TestCodeTableComplete(t *testing.T) {
	for code := ocsd.OK; code <= ocsd.ErrLast; code++ {
		if CodeName(code) == "unknown" {
			t.Errorf("code %d has no name", code)
		}
		if CodeDescription(code) == "" {
			t.Errorf("code %d has no description", code)
		}
	}
	if CodeDescription(ocsd.ErrLast+1) != "" {
		t.Errorf("expected empty description past the end marker")
	}
}
