package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"devplay/internal/logging"
	"devplay/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the persisted install queue",
	}

	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueClearPendingCommand(ctx))

	return queueCmd
}

type queueEntry struct {
	Partition string       `json:"partition"`
	Record    queue.Record `json:"record"`
}

type queueListing struct {
	Identity string       `json:"identity"`
	Entries  []queueEntry `json:"entries"`
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show persisted pending and in-progress installs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			persister, err := queue.OpenSQLite(cfg.QueueDBPath(), logging.NewNop())
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer persister.Close()

			pending, inProgress := persister.Load(cmd.Context())
			listing := queueListing{Identity: persister.LoadIdentity(cmd.Context())}
			for _, record := range inProgress {
				listing.Entries = append(listing.Entries, queueEntry{Partition: string(queue.PartitionInProgress), Record: record})
			}
			for _, record := range pending {
				listing.Entries = append(listing.Entries, queueEntry{Partition: string(queue.PartitionPending), Record: record})
			}

			if asJSON {
				return writeJSON(cmd, listing)
			}

			out := cmd.OutOrStdout()
			identity := listing.Identity
			if identity == "" {
				identity = "(signed out)"
			}
			fmt.Fprintf(out, "Identity: %s\n", identity)
			if len(listing.Entries) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			title := cases.Title(language.English)
			rows := make([][]string, 0, len(listing.Entries))
			for _, entry := range listing.Entries {
				r := entry.Record
				rows = append(rows, []string{
					r.ItemID,
					r.Name,
					title.String(strings.ReplaceAll(r.Category, "_", " ")),
					humanize.IBytes(uint64(max(r.Size, 0))),
					entry.Partition,
					fmt.Sprintf("%.0f%%", r.Progress),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Name", "Category", "Size", "State", "Progress"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueClearPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-pending",
		Short: "Delete every pending item from the persisted queue",
		Long:  "Delete every pending item. In-progress installs and the owned set are untouched. Refuses to run while a devplay run holds the queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			release, err := ctx.acquireLock()
			if err != nil {
				return err
			}
			defer release()

			persister, err := queue.OpenSQLite(cfg.QueueDBPath(), logging.NewNop())
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer persister.Close()

			pending, _ := persister.Load(cmd.Context())
			if err := persister.ClearKey(cmd.Context(), queue.KeyPending); err != nil {
				return fmt.Errorf("clear pending: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d pending item(s)\n", len(pending))
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
