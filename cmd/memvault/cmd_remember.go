package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memoryvault/memoryvault/internal/domain"
)

var (
	rememberImportance float64
	rememberMetadata   []string
	rememberTier       string
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemember(args[0])
	},
}

func init() {
	rememberCmd.Flags().Float64Var(&rememberImportance, "importance", 0.5, "importance in [0,1]")
	rememberCmd.Flags().StringArrayVar(&rememberMetadata, "meta", nil, "metadata key=value pair, repeatable")
	rememberCmd.Flags().StringVar(&rememberTier, "tier", string(domain.TierWorking), "starting tier: working, warm, cold")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(content string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer a.close()

	metadata, err := parseMetadataFlags(rememberMetadata)
	if err != nil {
		return err
	}

	id, err := a.repo.Store(context.Background(), content, metadata, rememberImportance, domain.Tier(rememberTier))
	if err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}

	if !quiet {
		fmt.Printf("stored memory %s\n", id)
	} else {
		fmt.Println(id)
	}
	return nil
}

// parseMetadataFlags turns repeated --meta key=value flags into a map.
func parseMetadataFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --meta value %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
