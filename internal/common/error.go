package common

import (
	"fmt"
	"strings"

	"defmtitm/internal/ocsd"
)

// Error represents the library error object.
// Stream and frame level errors of every component render through it so
// diagnostics share one layout.
type Error struct {
	Code    ocsd.Err
	Sev     ocsd.ErrSeverity
	Idx     ocsd.TrcIndex
	ChanID  uint8
	Message string
}

func NewError(sev ocsd.ErrSeverity, code ocsd.Err) *Error {
	return &Error{
		Code:   code,
		Sev:    sev,
		Idx:    ocsd.BadTrcIndex,
		ChanID: ocsd.BadChannel,
	}
}

func NewErrorMsg(sev ocsd.ErrSeverity, code ocsd.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     ocsd.BadTrcIndex,
		ChanID:  ocsd.BadChannel,
		Message: msg,
	}
}

func NewErrorWithIdxMsg(sev ocsd.ErrSeverity, code ocsd.Err, idx ocsd.TrcIndex, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     idx,
		ChanID:  ocsd.BadChannel,
		Message: msg,
	}
}

func NewErrorWithIdxChanMsg(sev ocsd.ErrSeverity, code ocsd.Err, idx ocsd.TrcIndex, chanID uint8, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     idx,
		ChanID:  chanID,
		Message: msg,
	}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case ocsd.ErrSevError:
		sb.WriteString("ERROR:")
	case ocsd.ErrSevWarn:
		sb.WriteString("WARN :")
	case ocsd.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Idx != ocsd.BadTrcIndex {
		sb.WriteString(fmt.Sprintf("TrcIdx=%d; ", e.Idx))
	}

	if e.ChanID != ocsd.BadChannel {
		sb.WriteString(fmt.Sprintf("CH=%d; ", e.ChanID))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// Is matches another *Error carrying the same code, so package sentinels
// built with NewError work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeName returns the short name for an error code.
func CodeName(code ocsd.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return "unknown"
}

// CodeDescription returns the one line description of an error code.
func CodeDescription(code ocsd.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.msg
	}
	return ""
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[ocsd.Err]errDesc{
	ocsd.OK:                 {"OK", "No Error."},
	ocsd.ErrFail:            {"ERR_FAIL", "General failure."},
	ocsd.ErrNotInit:         {"ERR_NOT_INIT", "Component not initialised."},
	ocsd.ErrInvalidParamVal: {"ERR_INVALID_PARAM_VAL", "Invalid value parameter passed to component."},
	ocsd.ErrFileError:       {"ERR_FILE_ERROR", "File access error"},
	ocsd.ErrNeedMoreData:    {"ERR_NEED_MORE_DATA", "Incomplete packet, waiting for more bytes."},
	ocsd.ErrBadPacketSeq:    {"ERR_BAD_PACKET_SEQ", "Bad packet sequence"},
	ocsd.ErrInvalidPcktHdr:  {"ERR_INVALID_PCKT_HDR", "Invalid packet header"},
	ocsd.ErrResync:          {"ERR_RESYNC", "Stream resynchronised, bytes discarded."},
	ocsd.ErrIncompleteEOT:   {"ERR_INCOMPLETE_EOT", "Incomplete packet at end of trace."},
	ocsd.ErrStreamReset:     {"ERR_STREAM_RESET", "Channel buffers cleared, partial frames dropped."},
	ocsd.ErrFrameOversize:   {"ERR_FRAME_OVERSIZE", "Frame length prefix exceeds the configured limit."},
	ocsd.ErrTableBuild:      {"ERR_TABLE_BUILD", "Symbol table could not be built."},
	ocsd.ErrTableNotFound:   {"ERR_TABLE_NOT_FOUND", "Format table section not found in program image."},
	ocsd.ErrDuplicateIndex:  {"ERR_DUPLICATE_INDEX", "Duplicate index in format table."},
	ocsd.ErrFormatString:    {"ERR_FORMAT_STRING", "Malformed format string."},
	ocsd.ErrArgMismatch:     {"ERR_ARG_MISMATCH", "Placeholder count does not match argument types."},
	ocsd.ErrUnknownArgType:  {"ERR_UNKNOWN_ARG_TYPE", "Unknown argument type in format table."},
	ocsd.ErrUnknownIndex:    {"ERR_UNKNOWN_INDEX", "Frame index not present in format table."},
	ocsd.ErrTruncated:       {"ERR_TRUNCATED", "Frame ended before all arguments were decoded."},
	ocsd.ErrMalformed:       {"ERR_MALFORMED", "Malformed frame data."},
	ocsd.ErrConnection:      {"ERR_CONNECTION", "Trace source connection error."},
	ocsd.ErrLast:            {"ERR_LAST", "No error - error code end marker"},
}
