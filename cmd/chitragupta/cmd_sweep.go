package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chitragupta/internal/kaala"
	"chitragupta/internal/types"
)

// sweepCmd runs one heal pass over the persisted tree.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one heal sweep over the persisted agent tree",
	Long: `Restores the persisted heartbeats, promotes silent agents to stale or
dead, kills dead branches, reaps terminal agents, applies the orphan policy,
and enforces token budgets. The resulting tree is written back.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	beats, err := s.LoadHeartbeats()
	if err != nil {
		return err
	}

	manager := kaala.NewManager(cfg.KaalaSettings(), types.SystemClock{})
	manager.SetPersister(s)
	if err := manager.RestoreHeartbeats(beats); err != nil {
		return err
	}

	report := manager.HealTree()
	fmt.Printf("Sweep complete: reaped=%d staleKilled=%d orphans=%d overBudget=%d\n",
		report.ReapedCount, report.KilledStaleCount,
		report.OrphansHandled, report.OverBudgetKilled)
	return nil
}
