package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	factdb "github.com/coreutil/factdb"
	"github.com/coreutil/factdb/internal/config"
	"github.com/coreutil/factdb/internal/replicate"
	"github.com/coreutil/factdb/internal/replicate/transport/dynamo"
)

var (
	dynamoTable string
	pullOnly    bool
	pushOnly    bool
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Push unreplicated changesets and pull from configured peers",
	Run: func(cmd *cobra.Command, args []string) {
		if dynamoTable == "" {
			fmt.Fprintln(os.Stderr, "replicate: --dynamo-table is required (the only transport this binary wires up)")
			os.Exit(1)
		}

		s := openStore()
		defer s.Close()

		pf, err := config.LoadPeerFile(peersPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replicate: %v\n", err)
			os.Exit(1)
		}
		peers := make([]replicate.PeerOrigin, len(pf.Peers))
		for i, p := range pf.Peers {
			peers[i] = replicate.PeerOrigin{Name: p.Name, Origin: p.Origin}
		}
		if len(peers) > 0 {
			client := factdb.NewClient(s, clientID)
			if err := replicate.SyncPeers(rootCtx, client, peers); err != nil {
				fmt.Fprintf(os.Stderr, "replicate: %v\n", err)
				os.Exit(1)
			}
		}

		transport, err := dynamo.Open(rootCtx, dynamoTable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replicate: %v\n", err)
			os.Exit(1)
		}
		r := replicate.New(s, transport)

		if !pullOnly {
			if err := r.Push(rootCtx); err != nil {
				fmt.Fprintf(os.Stderr, "push: %v\n", err)
				os.Exit(1)
			}
		}
		if !pushOnly {
			if err := r.Pull(rootCtx); err != nil {
				fmt.Fprintf(os.Stderr, "pull: %v\n", err)
				os.Exit(1)
			}
		}
	},
}

func init() {
	replicateCmd.Flags().StringVar(&dynamoTable, "dynamo-table", "", "DynamoDB table backing the replication transport")
	replicateCmd.Flags().BoolVar(&pullOnly, "pull-only", false, "only pull from peers, skip pushing local changesets")
	replicateCmd.Flags().BoolVar(&pushOnly, "push-only", false, "only push local changesets, skip pulling from peers")
}
