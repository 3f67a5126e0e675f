package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	gosync "sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/azure-tracker/internal/logbuf"
	"github.com/nhle/azure-tracker/internal/metrics"
	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/sync"
	"github.com/nhle/azure-tracker/internal/tracker"
)

// app carries the state shared by every command.
type app struct {
	configPath string
	verbose    bool
	saveLog    bool

	out io.Writer
	log *logrus.Logger
	v   *viper.Viper
	cfg *model.Config

	// problems counts warnings and errors logged by the tracker.
	problems atomic.Int32
	logMu    gosync.Mutex
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "azure-tracker",
		Short:         "Synchronize Azure DevOps pull requests, work items, builds and commits",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", model.DefaultConfigPath(), "Path to the configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log API requests")
	root.PersistentFlags().BoolVar(&a.saveLog, "save-log", false, "Write the session log to the log directory on exit")

	root.AddCommand(newSyncCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newRefreshCmd(a))
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newLogCmd(a))

	return root
}

// setup runs once before any subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()

	a.log = logrus.New()
	a.log.SetOutput(cmd.ErrOrStderr())
	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	a.log.SetLevel(logrus.InfoLevel)
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	a.v = model.NewViper(a.configPath)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading config %s: %w", a.configPath, err)
		}
		a.log.Debugf("no config file at %s, using defaults", a.configPath)
	}

	cfg, err := model.ConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// open creates a tracker and initializes it with the loaded configuration.
func (a *app) open(ctx context.Context, m *metrics.Metrics) (*tracker.Tracker, error) {
	tr := tracker.New(tracker.Options{
		Log:     a.log,
		Metrics: m,
		OnProgress: func(p sync.Progress) {
			a.log.WithFields(logrus.Fields{"kind": p.Kind.String(), "project": p.Project}).Debug(p.Message)
		},
	})
	tr.Log().OnNew(a.noteEntry)
	if !tr.Init(ctx, *a.cfg) {
		_ = tr.Close()
		return nil, fmt.Errorf("%s (check %s, or run 'azure-tracker config init' and 'azure-tracker login')",
			tr.Status(), a.configPath)
	}
	return tr, nil
}

// finish saves the cache, optionally the session log, and releases the
// tracker.
func (a *app) finish(tr *tracker.Tracker) error {
	err := tr.Save()
	if a.saveLog {
		a.saveSessionLog(tr)
	}
	if closeErr := tr.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (a *app) noteEntry(e logbuf.Entry) {
	if e.Level != logbuf.LevelInfo {
		a.problems.Add(1)
	}
}

// saveSessionLog writes the buffered entries to a new file in the log
// directory and empties the buffer. Nothing is written when it is empty.
func (a *app) saveSessionLog(tr *tracker.Tracker) {
	a.logMu.Lock()
	defer a.logMu.Unlock()

	buf := tr.Log()
	if buf.Len() == 0 {
		return
	}
	path, err := tr.SaveLog()
	if err != nil {
		a.log.Warnf("Saving log: %v", err)
		return
	}
	buf.Clear()
	fmt.Fprintf(a.out, "Log saved to %s\n", path)
}
