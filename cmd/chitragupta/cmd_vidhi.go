package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chitragupta/internal/vidhi"
)

var extractProject string

// extractCmd mines the recorded sessions for recurring procedures.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Mine recorded sessions for recurring tool procedures",
	RunE:  runExtract,
}

// vidhisCmd lists the learned procedures.
var vidhisCmd = &cobra.Command{
	Use:   "vidhis",
	Short: "List learned procedures for a project",
	RunE:  runVidhis,
}

func init() {
	extractCmd.Flags().StringVarP(&extractProject, "project", "p", "", "project to mine (default from config)")
	vidhisCmd.Flags().StringVarP(&extractProject, "project", "p", "", "project to list (default from config)")
}

func resolveProject() string {
	if extractProject != "" {
		return extractProject
	}
	return cfg.Project
}

func runExtract(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	engine := vidhi.NewEngine(resolveProject(), cfg.VidhiSettings(), s, nil)
	if err := engine.LoadAll(); err != nil {
		return err
	}

	res, err := engine.Extract(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Analyzed %d sequences in %dms: %d new, %d reinforced\n",
		res.TotalSequencesAnalyzed, res.DurationMs, res.NewVidhis, res.Reinforced)
	return nil
}

func runVidhis(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	project := resolveProject()
	vidhis, err := s.LoadVidhis(project)
	if err != nil {
		return err
	}
	if len(vidhis) == 0 {
		fmt.Printf("No procedures learned for project %q yet.\n", project)
		return nil
	}

	for _, v := range vidhis {
		fmt.Printf("%s  %s\n", v.ID, v.Name)
		fmt.Printf("  confidence=%.2f  rate=%.2f (%d✓ %d✗)  sessions=%d\n",
			v.Confidence, v.SuccessRate, v.SuccessCount, v.FailureCount, len(v.LearnedFrom))
		if len(v.Triggers) > 0 {
			fmt.Printf("  triggers: %s\n", strings.Join(v.Triggers, "; "))
		}
	}
	return nil
}
