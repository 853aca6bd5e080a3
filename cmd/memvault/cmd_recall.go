package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memoryvault/memoryvault/internal/domain"
)

var (
	recallLimit     int
	recallThreshold float64
	recallMode      string
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search stored memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecall(args[0])
	},
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", domain.DefaultLimit, "maximum results")
	recallCmd.Flags().Float64Var(&recallThreshold, "threshold", domain.DefaultSimilarityThresh, "minimum similarity [0,1]")
	recallCmd.Flags().StringVar(&recallMode, "mode", string(domain.ModeHybrid), "search mode: semantic, lexical, temporal, hybrid")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(query string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.close()

	page, err := a.repo.Search(context.Background(), domain.Query{
		QueryText:           query,
		Mode:                domain.SearchMode(recallMode),
		SimilarityThreshold: recallThreshold,
		Limit:               recallLimit,
	})
	if err != nil {
		return fmt.Errorf("searching memories: %w", err)
	}

	if len(page.Records) == 0 {
		if !quiet {
			fmt.Println("no memories found")
		}
		return nil
	}

	for _, m := range page.Records {
		if quiet {
			fmt.Println(m.ID)
			continue
		}
		fmt.Printf("%s  [%s]  score=%.3f\n  %s\n\n", m.ID, m.Tier, m.CombinedScore, m.Content)
	}
	if page.Degraded {
		fmt.Println("(results degraded: one or more candidate-generation branches failed)")
	}
	return nil
}
