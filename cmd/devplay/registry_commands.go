package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"devplay/internal/queue"
	"devplay/internal/registry/registrytest"
)

const shutdownTimeout = 5 * time.Second

func newRegistryCommand() *cobra.Command {
	registryCmd := &cobra.Command{
		Use:         "registry",
		Short:       "Local registry for development",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	registryCmd.AddCommand(newRegistryServeCommand())
	return registryCmd
}

func newRegistryServeCommand() *cobra.Command {
	var (
		listen      string
		catalogPath string
		token       string
		owned       []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory registry with a demo catalog",
		Long: "Serve the registry HTTP contract from memory. Ownership and installs reset on exit.\n\n" +
			"--own takes identity=item1,item2 and may be repeated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := demoCatalog()
			if strings.TrimSpace(catalogPath) != "" {
				loaded, err := loadCatalog(catalogPath)
				if err != nil {
					return err
				}
				catalog = loaded
			}

			opts := []registrytest.Option{registrytest.WithCatalog(catalog...)}
			if token != "" {
				opts = append(opts, registrytest.WithToken(token))
			}
			srv := registrytest.New(opts...)
			for _, spec := range owned {
				identity, ids, ok := strings.Cut(spec, "=")
				if !ok || strings.TrimSpace(identity) == "" {
					return fmt.Errorf("invalid --own %q: want identity=item1,item2", spec)
				}
				srv.Own(strings.TrimSpace(identity), splitList(ids)...)
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				errCh <- httpSrv.Serve(ln)
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Registry listening on http://%s (%d catalog items)\n", ln.Addr(), len(catalog))

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "Address to listen on")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "JSON file holding an array of catalog records")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token on every request")
	cmd.Flags().StringArrayVar(&owned, "own", nil, "Pre-own items for an identity (identity=item1,item2)")
	return cmd
}

func loadCatalog(path string) ([]queue.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var records []queue.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	out := records[:0]
	for _, record := range records {
		record.ItemID = strings.TrimSpace(record.ItemID)
		if record.ItemID == "" {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func demoCatalog() []queue.Record {
	return []queue.Record{
		{ItemID: "app-notes", Name: "Field Notes", Category: "productivity", Size: 18 << 20, Version: "2.4.1", IconRef: "icons/notes.png"},
		{ItemID: "app-weather", Name: "Skyline Weather", Category: "weather", Size: 42 << 20, Version: "5.0.0", IconRef: "icons/weather.png"},
		{ItemID: "game-chess", Name: "Quiet Chess", Category: "board_games", Size: 96 << 20, Version: "1.8.3", IconRef: "icons/chess.png"},
		{ItemID: "game-racer", Name: "Night Racer", Category: "racing_games", Size: 640 << 20, Version: "3.1.0", IconRef: "icons/racer.png"},
		{ItemID: "app-podcasts", Name: "Longform Podcasts", Category: "audio", Size: 57 << 20, Version: "7.2.0", IconRef: "icons/podcasts.png"},
	}
}
