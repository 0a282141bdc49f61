package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
	"github.com/dragon-ia/dragond/internal/config"
	"github.com/dragon-ia/dragond/internal/orchestrator"
	"github.com/dragon-ia/dragond/internal/providers"
)

var runCmd = &cobra.Command{
	Use:   "run [payload.json]",
	Short: "Run every analysis agent once and print the reports",
	Long: `Runs the repo, test, sec and analytics agents against the payload in the
given JSON file (or empty inputs when omitted) and prints all reports to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	var payload agent.Payload
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse payload %s: %w", args[0], err)
		}
	}

	b := bus.New()
	defer b.Close()

	provider := providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	store, err := chat.NewStore(chat.StoreConfig{
		Bus:        b,
		Provider:   provider,
		EncryptKey: randomHexKey(),
	})
	if err != nil {
		return err
	}

	rules, err := agent.LoadScanRules(cfg.Scan.RulesFile)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		Bus:       b,
		ChatStore: store,
		ScanRules: rules,
	})

	results := orch.RunAll(context.Background(), payload)

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
