package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/larkspur/copdesk/internal/api"
	"github.com/larkspur/copdesk/internal/auth"
	"github.com/larkspur/copdesk/internal/config"
	"github.com/larkspur/copdesk/internal/db"
	"github.com/larkspur/copdesk/internal/llm"
	"github.com/larkspur/copdesk/internal/mcp"
	"github.com/larkspur/copdesk/pkg/audit"
	"github.com/larkspur/copdesk/pkg/trace"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("copdesk %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`copdesk — crisis claim verification coordinator

Usage:
  copdesk serve [--config config.toml] [--addr :8080]
  copdesk mcp [--config config.toml]
  copdesk version
  copdesk help

Commands:
  serve     Start the HTTP server
  mcp       Start the read-only MCP server on stdio
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	traces := trace.NewStore(database.DB)
	if err := traces.Init(); err != nil {
		log.Fatalf("initializing trace store: %v", err)
	}
	defer traces.Close()
	database.SetTraceStore(traces)

	accessLog := audit.NewSQLiteLogger(database.DB)
	defer accessLog.Close()

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(database, a, cfg.Publishing.TwoPersonRule)

	if cfg.LLM.OpenAIAPIKey != "" {
		drafter, err := llm.NewDrafter(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model)
		if err != nil {
			log.Fatalf("configuring drafter: %v", err)
		}
		apiHandler.SetDrafter(drafter)
		slog.Info("drafting oracle enabled", "model", cfg.LLM.Model)
	} else {
		slog.Info("drafting oracle disabled, no API key configured")
	}

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	actorFrom := func(r *http.Request) string {
		if claims := a.ExtractClaims(r); claims != nil {
			return claims.Handle
		}
		return ""
	}
	handler := api.SecurityHeaders(audit.HTTPMiddleware(accessLog, actorFrom)(mux))

	log.Printf("copdesk %s listening on %s", version, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)
	if cfg.Publishing.TwoPersonRule {
		log.Printf("two-person rule: enabled")
	} else {
		log.Printf("two-person rule: disabled")
	}

	if err := http.ListenAndServe(cfg.Server.Addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	srv := mcp.NewServer(database)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
