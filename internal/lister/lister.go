// Package lister drives decoding sessions from a configured byte source.
package lister

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"defmtitm/internal/common"
	"defmtitm/internal/itm"
	"defmtitm/internal/ocsd"
	"defmtitm/internal/pipeline"
	"defmtitm/internal/printers"
	"defmtitm/internal/source"
	"defmtitm/internal/symtab"
)

const DefaultAddr = "127.0.0.1:8765"

// Config holds the run settings. It can be loaded from a YAML file; command
// line flags override file values.
type Config struct {
	// byte source, exactly one of
	Connect string `yaml:"connect"` // dial host:port, reconnecting on loss
	Listen  string `yaml:"listen"`  // accept connections on host:port
	Input   string `yaml:"input"`   // replay a capture file

	// symbol table, exactly one of
	ELF   string `yaml:"elf"`
	Table string `yaml:"table"` // YAML table file

	Channels     []uint8       `yaml:"channels"` // empty means all
	AssumeSynced bool          `yaml:"assume_synced"`
	Prescale     uint32        `yaml:"prescale"`
	MaxFrameSize int           `yaml:"max_frame_size"`
	Wait         time.Duration `yaml:"wait"`  // connect timeout
	Retry        time.Duration `yaml:"retry"` // delay between dial attempts
	MaxConns     int64         `yaml:"max_conns"`

	JSON       bool   `yaml:"json"`
	DumpFrames bool   `yaml:"dump_frames"`
	Stats      bool   `yaml:"stats"` // per session summary on close
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Prescale:     1,
		MaxFrameSize: 4096,
		Wait:         source.DefaultDialTimeout,
		Retry:        source.DefaultRetryInterval,
		LogLevel:     "info",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that one source is selected and the stream settings are
// usable. It does not check the symbol table.
func (c *Config) Validate() error {
	n := 0
	for _, s := range []string{c.Connect, c.Listen, c.Input} {
		if s != "" {
			n++
		}
	}
	if n > 1 {
		return errors.New("only one of connect, listen and input may be set")
	}
	if _, err := c.sessionConfig(); err != nil {
		return err
	}
	if _, err := common.ParseSeverity(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// connectAddr is the dial address, defaulting when no source is set.
func (c *Config) connectAddr() string {
	if c.Connect == "" && c.Listen == "" && c.Input == "" {
		return DefaultAddr
	}
	return c.Connect
}

func (c *Config) sessionConfig() (*pipeline.Config, error) {
	scfg := pipeline.NewConfig()
	scfg.JSON = c.JSON
	scfg.DumpFrames = c.DumpFrames
	scfg.PrintStats = c.Stats

	scfg.ITM.AssumeSynced = c.AssumeSynced
	prescale := c.Prescale
	if prescale == 0 {
		prescale = 1
	}
	if err := scfg.ITM.SetTSPrescale(prescale); err != nil {
		return nil, err
	}
	scfg.Demux.Prescale = scfg.ITM.TSPrescaleValue()

	if c.MaxFrameSize < 0 {
		return nil, fmt.Errorf("invalid max frame size %d", c.MaxFrameSize)
	}
	if c.MaxFrameSize > 0 {
		scfg.Demux.MaxFrameSize = c.MaxFrameSize
	}

	if len(c.Channels) > 0 {
		var mask uint32
		for _, ch := range c.Channels {
			if !ocsd.IsValidChannel(ch) {
				return nil, fmt.Errorf("invalid channel %d: want 0-%d", ch, ocsd.NumChannels-1)
			}
			mask |= 1 << ch
		}
		scfg.Demux.Channels = mask
	}
	return scfg, nil
}

// NewLogger builds the host logger described by the config.
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	sev, err := common.ParseSeverity(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return common.NewLogger(out, sev, c.LogJSON), nil
}

// LoadTable reads the symbol table from the configured ELF or YAML file.
// Statements in an ELF file that cannot be resolved are skipped with a
// warning; a YAML table must be fully valid.
func LoadTable(cfg *Config, log logrus.FieldLogger) (*symtab.Table, error) {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	var (
		entries []symtab.Entry
		err     error
	)
	switch {
	case cfg.ELF != "" && cfg.Table != "":
		return nil, errors.New("only one of elf and table may be set")
	case cfg.ELF != "":
		entries, err = symtab.LoadELF(cfg.ELF)
	case cfg.Table != "":
		entries, err = loadYAMLTable(cfg.Table)
	default:
		return nil, errors.New("no symbol table: set elf or table")
	}
	if err != nil {
		return nil, err
	}
	checkLocations(entries, cfg.ELF != "", log)

	if cfg.Table != "" {
		return symtab.Build(entries)
	}
	return symtab.BuildSkipping(entries, func(be *symtab.BuildError) {
		log.WithFields(logrus.Fields{
			"index": be.Index,
			"code":  common.CodeName(be.Code),
		}).Warnf("skipping log statement: %s", be.Reason)
	})
}

// checkLocations drops all source locations unless every log statement has
// one, so output never mixes located and unlocated lines. ELF metadata
// without debug info counts as incomplete. Absolute file paths under the
// working directory are made relative to it.
func checkLocations(entries []symtab.Entry, fromELF bool, log logrus.FieldLogger) {
	missing, found := 0, 0
	for i := range entries {
		if entries[i].Tag == symtab.TagStr {
			continue
		}
		if entries[i].Location() == nil {
			missing++
		} else {
			found++
		}
	}
	if missing > 0 && (found > 0 || fromELF) {
		log.WithField("missing", missing).Warn("location info is incomplete; it will be omitted from the output")
		for i := range entries {
			entries[i].SetLocation(nil)
		}
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	for i := range entries {
		e := &entries[i]
		if !filepath.IsAbs(e.File) {
			continue
		}
		if rel, err := filepath.Rel(wd, e.File); err == nil && !strings.HasPrefix(rel, "..") {
			e.File = rel
		}
	}
}

func loadYAMLTable(path string) ([]symtab.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return symtab.LoadYAML(f)
}

// Run loads the table and decodes the configured source until it ends or
// ctx is cancelled. Table errors are returned before any input is read.
func Run(ctx context.Context, cfg *Config, out io.Writer, log logrus.FieldLogger) error {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, err := LoadTable(cfg, log)
	if err != nil {
		return fmt.Errorf("loading symbol table: %w", err)
	}
	scfg, err := cfg.sessionConfig()
	if err != nil {
		return err
	}
	log.WithField("entries", table.Len()).Info("symbol table loaded")

	w := printers.NewSyncWriter(out)
	handler := func(ctx context.Context, name string, r io.Reader) error {
		s := pipeline.NewSession(scfg, table, w, log.WithField("remote", name))
		defer s.Close()
		_, err := source.Copy(ctx, s, r)
		return err
	}
	return runSource(ctx, cfg, log, handler)
}

// ListPackets prints every ITM packet of the configured source without
// decoding frames. No symbol table is needed.
func ListPackets(ctx context.Context, cfg *Config, out io.Writer, log logrus.FieldLogger) error {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	scfg, err := cfg.sessionConfig()
	if err != nil {
		return err
	}

	w := printers.NewSyncWriter(out)
	fmt.Fprintln(w, "ITM Packet Lister")
	fmt.Fprintln(w, "-----------------")

	handler := func(ctx context.Context, name string, r io.Reader) error {
		l := newPacketLister(scfg.ITM, w)
		_, err := source.Copy(ctx, l, r)
		l.flush()
		return err
	}
	return runSource(ctx, cfg, log, handler)
}

func runSource(ctx context.Context, cfg *Config, log logrus.FieldLogger, handler source.Handler) error {
	switch {
	case cfg.Input != "":
		err := source.ReadFile(ctx, cfg.Input, handler)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	case cfg.Listen != "":
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		srv := &source.Server{MaxConns: cfg.MaxConns, Log: log}
		return srv.Serve(ctx, ln, handler)

	default:
		d := &source.Dialer{
			Addr:          cfg.connectAddr(),
			Timeout:       cfg.Wait,
			RetryInterval: cfg.Retry,
			Log:           log,
		}
		return d.Run(ctx, handler)
	}
}

// packetLister frames bytes and prints each packet as it completes.
type packetLister struct {
	framer  *itm.Framer
	printer *printers.PktPrinter
}

func newPacketLister(cfg *itm.Config, out io.Writer) *packetLister {
	p := printers.NewPktPrinter()
	p.SetOutput(out)
	return &packetLister{framer: itm.NewFramer(cfg), printer: p}
}

func (l *packetLister) Write(b []byte) (int, error) {
	l.framer.Write(b)
	for {
		pkt, err := l.framer.Next()
		if errors.Is(err, itm.ErrNeedMoreData) {
			break
		}
		if err != nil {
			l.printer.PrintError(err)
			continue
		}
		l.printer.PrintPacket(pkt)
	}
	return len(b), nil
}

func (l *packetLister) flush() {
	if err := l.framer.Flush(); err != nil {
		l.printer.PrintError(err)
	}
}
