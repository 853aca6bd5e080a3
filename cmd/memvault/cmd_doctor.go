package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoryvault/memoryvault/pkg/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Comprehensive system check",
	Long:  `Run a comprehensive system check to verify the configuration, row store, and embedding providers are working correctly.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() {
	fmt.Println("memvault System Check")
	fmt.Println("======================")
	fmt.Println()

	allOK := true
	hasWarnings := false

	fmt.Print("Configuration... ")
	cfg, err := config.LoadPath(configPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		allOK = false
		fmt.Println()
		fmt.Println("Some issues detected. Please review the errors above.")
		return
	}
	fmt.Println("OK")

	path, err := storagePath(cfg.Storage.URL)
	fmt.Print("Row store... ")
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		allOK = false
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Println("NOT INITIALIZED (will be created on first use)")
	} else {
		a, buildErr := buildApp(cfg)
		if buildErr != nil {
			fmt.Printf("ERROR: %v\n", buildErr)
			allOK = false
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			stats, statsErr := a.repo.Statistics(ctx)
			cancel()
			if statsErr != nil {
				fmt.Printf("ERROR: %v\n", statsErr)
				allOK = false
			} else {
				fmt.Printf("OK (%d active, %d deleted)\n", stats.ActiveCount, stats.DeletedCount)
			}
			a.close()
		}
	}
	fmt.Printf("  Path: %s\n", path)
	fmt.Println()

	fmt.Print("Embedding providers... ")
	if cfg.Embedding.Primary == "" {
		fmt.Println("ERROR: no primary provider configured")
		allOK = false
	} else {
		a, buildErr := buildApp(cfg)
		if buildErr != nil {
			fmt.Printf("ERROR: %v\n", buildErr)
			allOK = false
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			healthy := a.embed.HealthCheck(ctx)
			cancel()
			if healthy {
				fmt.Println("OK")
			} else {
				fmt.Println("DEGRADED (primary and every fallback provider unreachable)")
				hasWarnings = true
			}
			a.close()
		}
	}
	fmt.Printf("  Primary:  %s\n", cfg.Embedding.Primary)
	fmt.Printf("  Fallback: %v\n", cfg.Embedding.Fallback)
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Config dir: %s\n", config.ConfigDir())
	fmt.Printf("  Server:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Rate limit: enabled=%v\n", cfg.RateLimit.Enabled)
	fmt.Println()

	switch {
	case allOK && !hasWarnings:
		fmt.Println("All systems operational.")
	case allOK:
		fmt.Println("Core systems operational with a degraded embedding provider.")
	default:
		fmt.Println("Some issues detected. Please review the errors above.")
	}
}
