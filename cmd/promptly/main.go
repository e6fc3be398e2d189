package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/bus"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/catalog"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/gateway"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/knowledge"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model/anthropic"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model/openai"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/notify"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/sandbox"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/scheduler"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/tools"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/vault"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("promptly %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: promptly <command>\n\nCommands:\n  serve      Start the Promptly daemon\n  backup     Archive the data directory to a tar.zst file\n  restore    Restore a data directory from a backup archive\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting promptly", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	b, err := bus.New(cfg.Bus)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer b.Close()
	slog.Info("bus started", "port", cfg.Bus.Port)

	client, err := bus.NewClient(b)
	if err != nil {
		return fmt.Errorf("connect bus client: %w", err)
	}
	defer client.Close()

	// Vault for sealed secrets
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secrets api disabled")
	}

	// Agent catalog
	cat := catalog.New(db, cfg.Agents, cfg.Router)
	if err := cat.Sync(); err != nil {
		return fmt.Errorf("sync agent catalog: %w", err)
	}

	// Model providers
	models := model.NewRegistry(cfg.Engine.DefaultModel)
	if cfg.Providers.Anthropic.APIKey != "" {
		models.Register("anthropic", anthropic.New(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.MaxTokens))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		models.Register("openai", openai.New(cfg.Providers.OpenAI.APIKey))
	}
	if len(models.Providers()) == 0 {
		slog.Warn("no model providers configured, turns will fail until a provider key is set")
	}

	// Tool registry
	reg := tools.NewRegistry()
	reg.Register(tools.NewWebSearch(cfg.Tools.SearchEndpoint))
	reg.Register(tools.NewHTTPFetch(int64(cfg.Tools.FetchMaxBytes)))
	reg.Register(tools.NewKnowledgeSearch(db))
	reg.Register(tools.NewArtifactStore(db))
	reg.Register(tools.NewArtifactGet(db))
	reg.Register(tools.NewArtifactList(db))
	if cfg.Tools.SearchEndpoint == "" {
		slog.Warn("search endpoint not set, web_search needs a per-agent endpoint to work")
	}
	if cfg.Sandbox.Enabled {
		sb, err := sandbox.NewManager(cfg.Sandbox.Image)
		if err != nil {
			return fmt.Errorf("init sandbox: %w", err)
		}
		if cfg.Sandbox.BuildDir != "" {
			if err := sb.BuildImage(ctx, cfg.Sandbox.BuildDir); err != nil {
				return fmt.Errorf("build sandbox image: %w", err)
			}
		}
		reg.Register(tools.NewCodeSandbox(sb))
		slog.Info("code sandbox enabled", "image", cfg.Sandbox.Image)
	}

	// Engine
	eng := engine.NewEngine(models, reg, cat, db, cfg.Engine, publishEvents(client))
	defer eng.Close()

	// Turn submissions over the bus (request/reply, used by pquery)
	if err := serveSubmit(client, eng); err != nil {
		return fmt.Errorf("subscribe turn submit: %w", err)
	}

	// Knowledge base
	km := knowledge.NewManager(db, cfg.Knowledge)
	if err := km.EnsureBase(); err != nil {
		return fmt.Errorf("init knowledge base: %w", err)
	}
	if n, err := km.ImportDir(); err != nil {
		slog.Warn("knowledge import failed", "error", err)
	} else {
		slog.Info("knowledge imported", "files", n, "path", km.BasePath())
	}

	// Scheduler
	sched := scheduler.New(db, eng, client, cfg.Scheduler)
	if cfg.Scheduler.Enabled {
		go sched.Start(ctx)
	}

	// Telegram notifier
	if cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID != 0 {
		notifier, err := notify.New(cfg.Notify.Telegram, client)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		if err := notifier.Start(ctx); err != nil {
			return fmt.Errorf("start notifier: %w", err)
		}
		defer notifier.Stop()
	} else {
		slog.Info("telegram notifier disabled")
	}

	// HTTP gateway
	gw := gateway.NewServer(db, b, eng, cat, km, v, cfg.Server, version)
	go func() {
		if err := gw.Start(ctx); err != nil {
			slog.Error("gateway error", "error", err)
		}
	}()
	defer gw.Close()

	// SIGHUP reloads agents, engine and scheduler settings in place.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			cancel()
			return nil
		}
		cfg = reload(cfg, cat, eng, sched)
	}
}

// reload applies a SIGHUP config refresh. Non-reloadable changes are logged
// and skipped; the previous config is kept when loading fails.
func reload(cfg *config.Config, cat *catalog.Catalog, eng *engine.Engine, sched *scheduler.Scheduler) *config.Config {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping previous", "error", err)
		return cfg
	}

	d := config.Diff(cfg, next)
	for _, field := range d.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("config reloaded, no changes")
		return next
	}

	if len(d.AgentsAdded)+len(d.AgentsRemoved)+len(d.AgentsChanged) > 0 || d.RouterChanged {
		cat.Replace(next.Agents, next.Router)
		if err := cat.Sync(); err != nil {
			slog.Error("agent catalog sync failed", "error", err)
		}
	}
	if d.EngineChanged {
		eng.UpdateConfig(d.NewEngine)
	}
	if d.SchedulerChanged {
		sched.UpdateConfig(d.NewScheduler.PollInterval)
	}

	slog.Info("config reloaded",
		"agents_added", len(d.AgentsAdded),
		"agents_removed", len(d.AgentsRemoved),
		"agents_changed", len(d.AgentsChanged))
	return next
}

// publishEvents adapts engine events to the bus: each one is wrapped in the
// event envelope and published on its turn's topic.
func publishEvents(client *bus.Client) engine.EventFunc {
	return func(event string, data map[string]any) {
		turnID, _ := data["turn_id"].(string)
		if turnID == "" {
			return
		}
		envelope := map[string]any{
			"type":      event,
			"turn_id":   turnID,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"data":      data,
		}
		if err := client.PublishJSON(bus.TopicTurnEvents(turnID), envelope); err != nil {
			slog.Warn("publish turn event failed", "event", event, "error", err)
		}
	}
}

// serveSubmit answers turns.submit requests with the queued turn's ids.
func serveSubmit(client *bus.Client, eng *engine.Engine) error {
	_, err := client.Subscribe(bus.TopicTurnSubmit, func(msg *nats.Msg) {
		var req engine.TurnRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respond(msg, map[string]string{"error": "invalid request"})
			return
		}

		accepted, err := eng.Submit(req)
		if err != nil {
			respond(msg, map[string]string{"error": err.Error()})
			return
		}
		respond(msg, map[string]string{
			"turn_id":         accepted.ID,
			"conversation_id": accepted.ConversationID,
			"status":          "queued",
		})
	})
	return err
}

func respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("submit reply failed", "error", err)
	}
}
