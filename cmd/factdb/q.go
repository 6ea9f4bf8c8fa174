package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	factdb "github.com/coreutil/factdb"
	"github.com/coreutil/factdb/internal/txn"
)

var watch bool

var qCmd = &cobra.Command{
	Use:   "q [query text]",
	Short: "Run one query against the store and print the resulting items",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		client := factdb.NewClient(s, clientID)
		text := strings.Join(args, " ")

		if err := runQuery(rootCtx, client, text); err != nil {
			fmt.Fprintf(os.Stderr, "query: %v\n", err)
			os.Exit(1)
		}
		if watch {
			watchQuery(rootCtx, client, text)
		}
	},
}

func init() {
	qCmd.Flags().BoolVar(&watch, "watch", false, "re-run the query and reprint its results whenever the store file changes")
}

func runQuery(ctx context.Context, client *txn.Client, text string) error {
	items, err := client.Q(ctx, text, nil)
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Println(item.String())
	}
	return nil
}

// watchQuery re-runs text whenever dbPath changes on disk, debouncing
// rapid writes so a burst of change events triggers a single re-run.
func watchQuery(ctx context.Context, client *txn.Client, text string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// The banner is only useful on an interactive terminal; a redirected
	// or piped stdout (e.g. a log file) doesn't need it repeated.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(os.Stderr, "\nWatching %s for changes... (Ctrl+C to exit)\n", dbPath)
	}

	var debounceTimer *time.Timer
	const debounceDelay = 300 * time.Millisecond

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nStopped watching.")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					fmt.Println("---")
					if err := runQuery(ctx, client, text); err != nil {
						fmt.Fprintf(os.Stderr, "query: %v\n", err)
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		}
	}
}
