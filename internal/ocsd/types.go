package ocsd

// Trace Indexing and Channel IDs

// TrcIndex is the byte offset of an item within the incoming trace stream.
type TrcIndex uint64

const (
	// BadTrcIndex is an invalid trace index value
	BadTrcIndex TrcIndex = ^TrcIndex(0)

	// BadChannel is an invalid stimulus channel value
	BadChannel uint8 = 0xFF

	// NumChannels is the number of ITM stimulus channels carried in a packet header.
	NumChannels = 32
)

// IsValidChannel returns true if the stimulus channel is in range (0 <= ch < 32)
func IsValidChannel(ch uint8) bool {
	return ch < NumChannels
}

// General Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                 Err = 0
	ErrFail            Err = 1
	ErrNotInit         Err = 2
	ErrInvalidParamVal Err = 3
	ErrFileError       Err = 4
	ErrNeedMoreData    Err = 5
	ErrBadPacketSeq    Err = 6
	ErrInvalidPcktHdr  Err = 7
	ErrResync          Err = 8
	ErrIncompleteEOT   Err = 9
	ErrStreamReset     Err = 10
	ErrFrameOversize   Err = 11
	ErrTableBuild      Err = 12
	ErrTableNotFound   Err = 13
	ErrDuplicateIndex  Err = 14
	ErrFormatString    Err = 15
	ErrArgMismatch     Err = 16
	ErrUnknownArgType  Err = 17
	ErrUnknownIndex    Err = 18
	ErrTruncated       Err = 19
	ErrMalformed       Err = 20
	ErrConnection      Err = 21
	ErrLast            Err = 22
)

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// IsFatal reports whether an error code must stop the pipeline from starting.
// Stream and frame level codes are recoverable.
func IsFatal(code Err) bool {
	switch code {
	case ErrTableBuild, ErrTableNotFound, ErrDuplicateIndex, ErrFormatString,
		ErrArgMismatch, ErrUnknownArgType, ErrNotInit, ErrFileError:
		return true
	}
	return false
}
