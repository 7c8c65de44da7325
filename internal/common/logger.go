package common

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"defmtitm/internal/ocsd"
)

// Severity represents log message severity levels
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Level maps the severity onto the logrus level.
func (s Severity) Level() logrus.Level {
	switch s {
	case SeverityDebug:
		return logrus.DebugLevel
	case SeverityInfo:
		return logrus.InfoLevel
	case SeverityWarning:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// ParseSeverity accepts the usual level names, case insensitive.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(name) {
	case "DEBUG", "TRACE":
		return SeverityDebug, nil
	case "", "INFO":
		return SeverityInfo, nil
	case "WARN", "WARNING":
		return SeverityWarning, nil
	case "ERROR":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("invalid log level: %s", name)
	}
}

// NewLogger creates the host logger. Host diagnostics go here, decoded
// target output does not.
func NewLogger(out io.Writer, minLevel Severity, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(minLevel.Level())
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:    true,
			FullTimestamp:    true,
			DisableQuote:     true,
			QuoteEmptyFields: true,
		})
	}
	return l
}

// NewNoOpLogger creates a logger that discards everything.
func NewNoOpLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// LogError logs err at a level derived from its library severity, with the
// error object fields attached.
func LogError(log logrus.FieldLogger, err error) {
	if err == nil {
		return
	}

	var libErr *Error
	if !errors.As(err, &libErr) {
		log.WithError(err).Error("unclassified error")
		return
	}

	fields := logrus.Fields{"code": CodeName(libErr.Code)}
	if libErr.Idx != ocsd.BadTrcIndex {
		fields["trc_idx"] = libErr.Idx
	}
	if libErr.ChanID != ocsd.BadChannel {
		fields["channel"] = libErr.ChanID
	}
	entry := log.WithFields(fields)

	switch libErr.Sev {
	case ocsd.ErrSevInfo:
		entry.Info(libErr.Message)
	case ocsd.ErrSevWarn:
		entry.Warn(libErr.Message)
	default:
		entry.Error(libErr.Message)
	}
}
