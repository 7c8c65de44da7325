package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defmtitm/internal/ocsd"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"debug", SeverityDebug},
		{"INFO", SeverityInfo},
		{"", SeverityInfo},
		{"warn", SeverityWarning},
		{"Warning", SeverityWarning},
		{"error", SeverityError},
	}
	for _, tc := range tests {
		got, err := ParseSeverity(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseSeverity("loud")
	assert.Error(t, err)
}

func TestLogErrorFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, SeverityDebug, false)

	LogError(log, NewErrorWithIdxChanMsg(ocsd.ErrSevWarn, ocsd.ErrTruncated, 17, 3, "frame too short"))

	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "code=ERR_TRUNCATED")
	assert.Contains(t, out, "trc_idx=17")
	assert.Contains(t, out, "channel=3")
	assert.Contains(t, out, "frame too short")
}

func TestLogErrorLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, SeverityError, false)

	LogError(log, NewErrorMsg(ocsd.ErrSevWarn, ocsd.ErrResync, "5 bytes discarded"))
	assert.Empty(t, strings.TrimSpace(buf.String()))

	LogError(log, nil)
	assert.Empty(t, buf.String())
}
