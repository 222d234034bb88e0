package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"devplay/internal/installer"
	"devplay/internal/logging"
	"devplay/internal/queue"
)

const idlePollInterval = 50 * time.Millisecond

type runOptions struct {
	identity    string
	downloadAll bool
	untilIdle   bool
	skipCatalog bool
	ephemeral   bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the install queue in the foreground",
		Long: "Restore the persisted queue, reconcile the owned set for the signed-in identity " +
			"and drive simulated installs until interrupted.\n\n" +
			"SIGHUP triggers a reconciliation, as a host does when the app returns to the foreground.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.identity, "identity", "i", "", "Signed-in identity (empty keeps the persisted identity)")
	cmd.Flags().BoolVar(&opts.downloadAll, "download-all", false, "Start every pending item after startup")
	cmd.Flags().BoolVar(&opts.untilIdle, "until-idle", false, "Exit once no install is in progress")
	cmd.Flags().BoolVar(&opts.skipCatalog, "skip-catalog", false, "Do not seed pending items from the registry catalog")
	cmd.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "Keep the queue in memory only; the state directory is not touched")
	return cmd
}

func runQueue(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctrlOpts := []installer.Option{installer.WithLogger(logger)}
	if !opts.ephemeral {
		release, err := ctx.acquireLock()
		if err != nil {
			return err
		}
		defer release()

		persister, err := queue.OpenSQLite(cfg.QueueDBPath(), logger)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer persister.Close()
		logger.Debug("queue opened", logging.String("path", persister.Path()))
		ctrlOpts = append(ctrlOpts, installer.WithPersister(persister))
	}

	ctrl, err := installer.New(cfg, ctrlOpts...)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := ctrl.Restore(runCtx); err != nil {
		return err
	}

	identity := strings.TrimSpace(opts.identity)
	if identity == "" {
		identity = ctrl.Snapshot().Identity
	}
	if _, err := ctrl.OnIdentityChanged(runCtx, identity); err != nil {
		logger.Warn("initial reconcile failed", logging.Error(err), logging.Alert("registry_unavailable"))
	}
	if !opts.skipCatalog {
		if _, err := ctrl.SeedCatalog(runCtx); err != nil {
			logger.Warn("catalog unavailable", logging.Error(err), logging.Alert("registry_unavailable"))
		}
	}
	if opts.downloadAll {
		started := ctrl.DownloadAll(runCtx)
		logger.Info("download all requested", logging.Int("started", started))
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	out := cmd.OutOrStdout()
	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Run(runCtx)
	}()

	var idle <-chan time.Time
	if opts.untilIdle {
		ticker := time.NewTicker(idlePollInterval)
		defer ticker.Stop()
		idle = ticker.C
	}

	for {
		select {
		case ev := <-ctrl.Events():
			printEvent(out, ev)
		case <-hup:
			if _, err := ctrl.OnResume(runCtx); err != nil {
				logger.Warn("reconcile on resume failed", logging.Error(err))
			}
		case <-idle:
			if ctrl.Counts().InProgress == 0 {
				stop()
				err := <-errCh
				drainEvents(out, ctrl.Events())
				printSummary(out, ctrl.Counts())
				return err
			}
		case err := <-errCh:
			drainEvents(out, ctrl.Events())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			printSummary(out, ctrl.Counts())
			return nil
		}
	}
}

func drainEvents(out io.Writer, events <-chan installer.Event) {
	for {
		select {
		case ev := <-events:
			printEvent(out, ev)
		default:
			return
		}
	}
}

func printEvent(out io.Writer, ev installer.Event) {
	switch ev.Kind {
	case installer.EventIdentityChanged:
		fmt.Fprintln(out, "identity changed")
	case installer.EventStarted:
		fmt.Fprintf(out, "started    %s (%s)\n", ev.ItemID, humanize.IBytes(uint64(max(ev.Record.Size, 0))))
	case installer.EventCompleted:
		fmt.Fprintf(out, "installed  %s\n", ev.ItemID)
	default:
		fmt.Fprintf(out, "%-10s %s\n", ev.Kind, ev.ItemID)
	}
}

func printSummary(out io.Writer, counts queue.Counts) {
	fmt.Fprintf(out, "pending=%d in_progress=%d owned=%d total=%d\n", counts.Pending, counts.InProgress, counts.Owned, counts.Total())
}
