package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chitragupta/internal/kaala"
	"chitragupta/internal/store"
	"chitragupta/internal/types"
)

// statusCmd prints the last known agent tree from the store.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted agent tree and its health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	beats, err := s.LoadHeartbeats()
	if err != nil {
		return err
	}
	if len(beats) == 0 {
		fmt.Println("No agents recorded.")
		return nil
	}

	byParent := make(map[types.AgentID][]kaala.Heartbeat)
	for _, hb := range beats {
		byParent[hb.ParentID] = append(byParent[hb.ParentID], hb)
	}

	fmt.Printf("%d agents:\n", len(beats))
	printSubtree(byParent, "", 0)
	return nil
}

func printSubtree(byParent map[types.AgentID][]kaala.Heartbeat, parent types.AgentID, indent int) {
	for _, hb := range byParent[parent] {
		silence := time.Since(hb.LastBeat).Round(time.Second)
		fmt.Printf("%s%s  [%s]  turns=%d tokens=%d/%d  last beat %s ago  %s\n",
			strings.Repeat("  ", indent), hb.AgentID, hb.Status,
			hb.TurnCount, hb.TokenUsage, hb.TokenBudget, silence, hb.Purpose)
		printSubtree(byParent, hb.AgentID, indent+1)
	}
}

// openStore opens the configured database, resolving relative paths against
// the workspace.
func openStore() (*store.Store, error) {
	path := cfg.Store.DBPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return store.New(path)
}
