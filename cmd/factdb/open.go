package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	factdb "github.com/coreutil/factdb"
	"github.com/coreutil/factdb/pkg/store"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open (or create) the store and print its origin uuid",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := factdb.Open(rootCtx, dbPath, saltFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		fmt.Println(s.UUID())
	},
}

func openStore() store.Store {
	s, err := factdb.Open(rootCtx, dbPath, saltFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	return s
}
