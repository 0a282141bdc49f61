package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dragon-ia/dragond/internal/agent"
	"github.com/dragon-ia/dragond/internal/audit"
	"github.com/dragon-ia/dragond/internal/bus"
	"github.com/dragon-ia/dragond/internal/chat"
	"github.com/dragon-ia/dragond/internal/config"
	"github.com/dragon-ia/dragond/internal/orchestrator"
	"github.com/dragon-ia/dragond/internal/providers"
	"github.com/dragon-ia/dragond/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon (HTTP + WebSocket)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	b := bus.New()
	defer b.Close()

	encKey := cfg.Chat.EncryptKey
	if encKey == "" {
		// Without a stable key, persisted histories can't be decrypted
		// across restarts.
		log.Println("[Serve] ⚠️ chat encrypt key not set, using a random per-process key")
		encKey = randomHexKey()
	}

	provider := providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	store, err := chat.NewStore(chat.StoreConfig{
		Bus:         b,
		Provider:    provider,
		EncryptKey:  encKey,
		PersistPath: cfg.Chat.SessionsFile,
		SessionCap:  cfg.Chat.SessionCap,
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

	auditLog := audit.New(audit.Config{
		Path:     cfg.Audit.File,
		MaxBytes: cfg.Audit.MaxBytes,
		RedisURL: cfg.Audit.RedisURL,
	})
	defer auditLog.Close()

	for _, ch := range []string{
		agent.ChannelStatus,
		orchestrator.ChannelReport,
		orchestrator.ChannelAgentError,
		chat.ChannelChat,
	} {
		b.Subscribe(ch, auditLog.MirrorEvent)
	}

	srv := server.New(server.Config{
		Port:          cfg.Server.Port,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		APIKey:        cfg.Server.APIKey,
	}, orch, b, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[Serve] 🐉 dragond listening on port %d", cfg.Server.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	return g.Wait()
}

func randomHexKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("[Serve] random key: %v", err)
	}
	return hex.EncodeToString(buf)
}
