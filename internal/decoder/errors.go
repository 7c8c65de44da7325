package decoder

import (
	"fmt"

	"defmtitm/internal/common"
	"defmtitm/internal/ocsd"
)

// Frame error sentinels, for use with errors.Is.
var (
	ErrUnknownIndex = common.NewError(ocsd.ErrSevWarn, ocsd.ErrUnknownIndex)
	ErrTruncated    = common.NewError(ocsd.ErrSevWarn, ocsd.ErrTruncated)
	ErrMalformed    = common.NewError(ocsd.ErrSevWarn, ocsd.ErrMalformed)
)

// DecodeError reports a frame that could not be decoded. Only the frame is
// lost; the decoder holds no state between frames.
type DecodeError struct {
	Code      ocsd.Err
	Index     uint64        // frame index, when it could be read
	Channel   uint8         // stimulus channel of the frame
	StreamIdx ocsd.TrcIndex // stream index of the completing packet
	Reason    string
}

func (e *DecodeError) Error() string {
	return e.libError().Error()
}

// Unwrap exposes the library error object.
func (e *DecodeError) Unwrap() error {
	return e.libError()
}

func (e *DecodeError) libError() *common.Error {
	return common.NewErrorWithIdxChanMsg(ocsd.ErrSevWarn, e.Code, e.StreamIdx, e.Channel,
		fmt.Sprintf("frame index %d: %s", e.Index, e.Reason))
}

func truncated(format string, args ...any) *DecodeError {
	return &DecodeError{Code: ocsd.ErrTruncated, Reason: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Code: ocsd.ErrMalformed, Reason: fmt.Sprintf(format, args...)}
}

func unknownIndex(index uint64) *DecodeError {
	return &DecodeError{Code: ocsd.ErrUnknownIndex, Index: index, Reason: fmt.Sprintf("index %d not in table", index)}
}
