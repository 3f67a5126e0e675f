package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nhle/azure-tracker/internal/metrics"
	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/tracker"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		interval    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync in the background until interrupted",
		Long: `Sync everything once, then again every poll interval. The
configuration file is watched and the tracker reinitialized when it
changes. Prometheus metrics are served on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval > 0 {
				a.cfg.PollIntervalSec = interval
			}
			if a.cfg.PollIntervalSec <= 0 {
				a.cfg.PollIntervalSec = 300
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, m, a.log)
				defer shutdown(srv, a.log)
			}

			tr, err := a.open(ctx, m)
			if err != nil {
				return err
			}

			reload := make(chan struct{}, 1)
			a.v.OnConfigChange(func(e fsnotify.Event) {
				a.log.WithField("op", e.Op.String()).Infof("Config file %s changed", e.Name)
				select {
				case reload <- struct{}{}:
				default:
				}
			})
			a.v.WatchConfig()

			tr.Start(ctx)
			results := tr.Results()
			for {
				select {
				case <-ctx.Done():
					tr.Stop()
					return a.finish(tr)

				case res := <-results:
					reportResult(a, res)
					if err := tr.Save(); err != nil {
						a.log.Warnf("Saving cache after %s sync: %v", res.Kind, err)
					}
					if a.saveLog {
						a.saveSessionLog(tr)
					}

				case <-reload:
					cfg, err := model.ConfigFromViper(a.v)
					if err != nil {
						a.log.Errorf("Reloading config: %v", err)
						continue
					}
					if cfg.PollIntervalSec <= 0 {
						cfg.PollIntervalSec = a.cfg.PollIntervalSec
					}
					tr.Stop()
					if err := tr.Save(); err != nil {
						a.log.Warnf("Saving cache before reload: %v", err)
					}
					if !tr.Init(ctx, *cfg) {
						a.log.Errorf("Keeping previous settings: %s", tr.Status())
						if !tr.Init(ctx, *a.cfg) {
							return a.finish(tr)
						}
					} else {
						a.cfg = cfg
					}
					tr.Start(ctx)
					results = tr.Results()
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "Address to serve /metrics on; empty disables it")
	cmd.Flags().IntVar(&interval, "interval", 0, "Poll interval in seconds (overrides poll_interval_sec)")

	return cmd
}

func reportResult(a *app, res tracker.Result) {
	fields := logrus.Fields{
		"kind":     res.Kind.String(),
		"run":      res.ID,
		"duration": res.Duration.Round(time.Millisecond).String(),
	}
	if res.Auth {
		a.log.WithFields(fields).Errorf(
			"%s: authentication expired. Run 'azure-tracker login'; the next sync picks up the new token after a config reload.",
			a.cfg.Organization)
		return
	}
	if res.Err != nil {
		a.log.WithFields(fields).Errorf("Background sync failed: %v", res.Err)
		return
	}
	for _, k := range model.Kinds() {
		fields[k.String()] = res.Counts[k]
	}
	a.log.WithFields(fields).Info("Background sync finished")
}

func serveMetrics(addr string, m *metrics.Metrics, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server: %v", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("Stopping metrics server: %v", err)
	}
}
