// defmt-itm decodes defmt log frames carried in an ITM trace stream.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"defmtitm/internal/common"
	"defmtitm/internal/lister"
	"defmtitm/internal/ocsd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds flag values; only flags set on the command line override
// the config file.
type options struct {
	configPath string
	connect    string
	listen     string
	input      string
	elf        string
	table      string
	channels   []uint
	prescale   uint32
	frameSize  int
	maxConns   int64
	json       bool
	dumpFrames bool
	stats      bool
	synced     bool
	verbose    bool
	logLevel   string
	logJSON    bool
	cfg        *lister.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: lister.DefaultConfig()}

	rootCmd := &cobra.Command{
		Use:   "defmt-itm",
		Short: "Decode defmt logs from an ITM trace stream",
		Long: `Reads an ITM byte stream from a trace server, a listening socket or a
capture file, reassembles defmt frames from the stimulus channels and prints
one line per log message using the symbol table of the firmware ELF.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return run(cmd, cfg, lister.Run)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.connect, "connect", "", "trace server host:port to dial (default "+lister.DefaultAddr+")")
	pf.StringVar(&opts.listen, "listen", "", "accept trace connections on host:port")
	pf.StringVarP(&opts.input, "input", "i", "", "read a capture file instead of a socket")
	pf.DurationVar(&opts.cfg.Wait, "wait", opts.cfg.Wait, "connect timeout")
	pf.DurationVar(&opts.cfg.Retry, "retry", opts.cfg.Retry, "delay between connection attempts")
	pf.Int64Var(&opts.maxConns, "max-conns", 0, "concurrent connections in listen mode (0 = unlimited)")
	pf.BoolVar(&opts.synced, "assume-synced", false, "start decoding without waiting for a sync packet")
	pf.Uint32Var(&opts.prescale, "prescale", 1, "local timestamp prescaler (1, 4, 16, 64)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.logLevel, "log-level", "info", "host log level (debug, info, warn, error)")
	pf.BoolVar(&opts.logJSON, "log-json", false, "host log records as JSON")

	f := rootCmd.Flags()
	f.StringVar(&opts.elf, "elf", "", "firmware ELF holding the .defmt table")
	f.StringVar(&opts.table, "table", "", "YAML symbol table instead of an ELF")
	f.UintSliceVar(&opts.channels, "port", nil, "stimulus channels to decode (default all)")
	f.IntVar(&opts.frameSize, "max-frame-size", 4096, "largest accepted frame in bytes")
	f.BoolVar(&opts.json, "json", false, "print events as JSON lines")
	f.BoolVar(&opts.dumpFrames, "dump-frames", false, "print raw frames before decoding")
	f.BoolVar(&opts.stats, "stats", false, "print event counts when a stream ends")

	packetsCmd := &cobra.Command{
		Use:   "packets",
		Short: "List raw ITM packets without decoding",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return run(cmd, cfg, lister.ListPackets)
		},
	}
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "List the error codes used in diagnostics and logs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printErrorCodes(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(packetsCmd, errorsCmd)
	return rootCmd
}

// resolve loads the config file, if any, and applies the flags that were set.
func (o *options) resolve(cmd *cobra.Command) (*lister.Config, error) {
	cfg := o.cfg
	if o.configPath != "" {
		fileCfg, err := lister.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("connect", func() { cfg.Connect = o.connect })
	set("listen", func() { cfg.Listen = o.listen })
	set("input", func() { cfg.Input = o.input })
	set("elf", func() { cfg.ELF = o.elf })
	set("table", func() { cfg.Table = o.table })
	set("wait", func() { cfg.Wait = o.cfg.Wait })
	set("retry", func() { cfg.Retry = o.cfg.Retry })
	set("max-conns", func() { cfg.MaxConns = o.maxConns })
	set("assume-synced", func() { cfg.AssumeSynced = o.synced })
	set("prescale", func() { cfg.Prescale = o.prescale })
	set("max-frame-size", func() { cfg.MaxFrameSize = o.frameSize })
	set("json", func() { cfg.JSON = o.json })
	set("dump-frames", func() { cfg.DumpFrames = o.dumpFrames })
	set("stats", func() { cfg.Stats = o.stats })
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("log-json", func() { cfg.LogJSON = o.logJSON })
	set("port", func() {
		cfg.Channels = cfg.Channels[:0]
		for _, ch := range o.channels {
			if ch > 0xFF {
				ch = 0xFF
			}
			cfg.Channels = append(cfg.Channels, uint8(ch))
		}
	})
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

type runFunc func(context.Context, *lister.Config, io.Writer, logrus.FieldLogger) error

func run(cmd *cobra.Command, cfg *lister.Config, fn runFunc) error {
	log, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, cfg, cmd.OutOrStdout(), log); err != nil {
		return fmt.Errorf("defmt-itm: %w", err)
	}
	return nil
}

func printErrorCodes(w io.Writer) {
	fmt.Fprintln(w, "Error Code List")
	fmt.Fprintln(w)
	for code := ocsd.OK; code < ocsd.ErrLast; code++ {
		desc := common.CodeDescription(code)
		if ocsd.IsFatal(code) {
			desc += " (fatal)"
		}
		fmt.Fprintf(w, "0x%04X %-22s %s\n", int(code), common.CodeName(code), desc)
	}
}
