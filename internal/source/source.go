// Package source delivers raw trace bytes from TCP connections or capture
// files to a handler.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"defmtitm/internal/common"
	"defmtitm/internal/ocsd"
)

const (
	DefaultDialTimeout   = 60 * time.Second
	DefaultRetryInterval = 2 * time.Second
	copyBufferSize       = 4096
)

// Handler consumes one byte stream. name identifies the stream in logs.
type Handler func(ctx context.Context, name string, r io.Reader) error

// Copy copies r into w until EOF or until ctx is done. A done context is
// reported as ctx.Err().
func Copy(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			return total, err
		}
	}
}

// serveConn runs handler on conn and closes conn when ctx is done so a
// blocked read returns.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()
	return handler(ctx, conn.RemoteAddr().String(), conn)
}

func connError(log logrus.FieldLogger, err error) *logrus.Entry {
	return log.WithError(err).WithField("code", common.CodeName(ocsd.ErrConnection))
}

// Dialer connects to a trace server and reconnects whenever the connection
// fails or ends.
type Dialer struct {
	Addr          string
	Timeout       time.Duration // connect timeout
	RetryInterval time.Duration // minimum time between dial attempts
	Log           logrus.FieldLogger
}

// Run dials until ctx is done, handing each connection to handler. It
// returns nil once ctx is cancelled.
func (d *Dialer) Run(ctx context.Context, handler Handler) error {
	log := d.Log
	if log == nil {
		log = common.NewNoOpLogger()
	}
	log = log.WithField("remote", d.Addr)

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	interval := d.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	var lastDial time.Time
	for {
		if since := time.Since(lastDial); since < interval {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval - since):
			}
		}
		lastDial = time.Now()

		log.Info("connecting")
		nd := net.Dialer{Timeout: timeout}
		conn, err := nd.DialContext(ctx, "tcp", d.Addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			connError(log, err).Warn("connection failed")
			continue
		}

		log.Info("connected")
		err = serveConn(ctx, conn, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			connError(log, err).Warn("connection lost")
		}
		log.Info("reconnecting")
	}
}

// Server accepts trace connections and decodes each one concurrently.
type Server struct {
	MaxConns int64 // 0 means unlimited
	Log      logrus.FieldLogger
}

// Serve accepts connections on ln until ctx is done, then waits for the
// running handlers. Handler errors end only their own connection. ln is
// closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handler Handler) error {
	log := s.Log
	if log == nil {
		log = common.NewNoOpLogger()
	}
	log = log.WithField("listen", ln.Addr().String())

	var sem *semaphore.Weighted
	if s.MaxConns > 0 {
		sem = semaphore.NewWeighted(s.MaxConns)
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)
	log.Info("listening")
	for {
		if sem != nil {
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			g.Wait()
			return fmt.Errorf("accept: %w", err)
		}

		connLog := log.WithField("remote", conn.RemoteAddr().String())
		connLog.Info("accepted")
		g.Go(func() error {
			if sem != nil {
				defer sem.Release(1)
			}
			if err := serveConn(gctx, conn, handler); err != nil && gctx.Err() == nil {
				connError(connLog, err).Warn("connection ended")
			}
			connLog.Info("closed")
			return nil
		})
	}
	return g.Wait()
}

// ReadFile replays a capture file through handler.
func ReadFile(ctx context.Context, path string, handler Handler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return handler(ctx, path, f)
}
