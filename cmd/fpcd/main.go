package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fpc-kitakami/fpcd/config"
	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/fingerprint"
	"github.com/fpc-kitakami/fpcd/log"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var errNoRuntime = errors.New("no secure runtime available in this build, use --simulate")

type args struct {
	configPath string
	dbPath     string
	debug      bool
	simulate   bool
	attempts   int
}

type env struct {
	cfg config.Config
	m   *fingerprint.Manager
	l   *zap.SugaredLogger
}

// logger picks human readable output on a terminal, capped at info unless
// debugging.
func logger(debug bool) *zap.SugaredLogger {
	switch {
	case debug:
		return log.Development().Sugar()
	case term.IsTerminal(int(os.Stderr.Fd())):
		return log.Development(log.Level(zapcore.InfoLevel)).Sugar()
	default:
		return log.Production().Sugar()
	}
}

func newEnv(a *args) (*env, error) {
	l := logger(a.debug)

	cfg, err := config.Load(afero.NewOsFs(), a.configPath)
	if err != nil {
		return nil, err
	}

	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}

	var (
		opener tz.Opener
		attrs  device.AttrWriter
		irq    device.IRQWaiter
	)

	if a.simulate {
		l.Info("running against the simulated secure runtime")

		opener, attrs, irq, err = simulated(cfg, l)
		if err != nil {
			return nil, err
		}
	} else {
		opener = func() (tz.Runtime, error) {
			return nil, errNoRuntime
		}
		attrs = device.NewSysfsAttrs(nil, cfg.SPIDir, cfg.AttrFiles())
		irq = device.SysfsIRQ{Path: cfg.AttrFiles().Path(cfg.SPIDir, device.AttrIRQ)}
	}

	seq := device.NewSequencer(attrs, irq, cfg.IRQTimeout, l.Named("device"))

	m := fingerprint.New(fingerprint.Options{
		Opener:     opener,
		Power:      seq,
		Logger:     l.Named("fpc"),
		BufferSize: cfg.BufferSize,
		Fingerprint: fingerprint.TrustletImage{
			Path: cfg.Trustlet.Fingerprint.Path,
			Name: cfg.Trustlet.Fingerprint.Name,
		},
		Keymaster: fingerprint.TrustletImage{
			Path: cfg.Trustlet.Keymaster.Path,
			Name: cfg.Trustlet.Keymaster.Name,
		},
	})

	return &env{
		cfg: cfg,
		m:   m,
		l:   l,
	}, nil
}

// run initializes the driver, runs f and closes it again. Bootstrap failures
// are fatal.
func (e *env) run(f func() error) error {
	if err := e.m.Init(); err != nil {
		e.l.Fatalw("init failed", "error", err)
	}

	ferr := f()

	if err := e.m.Close(); err != nil {
		e.l.Errorw("close failed", "error", err)
		if ferr == nil {
			ferr = err
		}
	}

	return ferr
}

func rootCmd() *cobra.Command {
	a := &args{}

	root := &cobra.Command{
		Use:           "fpcd",
		Short:         "Fingerprint sensor control through the secure fingerprint trustlet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "configuration file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "template database path (overrides configuration)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "debug logging")
	root.PersistentFlags().BoolVar(&a.simulate, "simulate", false, "use the in-process simulated secure runtime")
	root.PersistentFlags().IntVar(&a.attempts, "attempts", 20, "capture attempts before giving up")

	root.AddCommand(
		enrollCmd(a),
		authCmd(a),
		listCmd(a),
		deleteCmd(a),
		dbCmd(a),
	)

	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
