package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/medagenda/query-engine/pkg/config"
	"github.com/medagenda/query-engine/pkg/engine"
	"github.com/medagenda/query-engine/pkg/executor"
	"github.com/medagenda/query-engine/pkg/logging"
	"github.com/medagenda/query-engine/pkg/schema"

	mssqlgw "github.com/medagenda/query-engine/pkg/adapters/gateway/mssql"
	postgresgw "github.com/medagenda/query-engine/pkg/adapters/gateway/postgres"
	sqlitegw "github.com/medagenda/query-engine/pkg/adapters/gateway/sqlitedb"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	dialectFlag := flag.String("dialect", "", "target dialect (sqlserver, postgres, sqlite); defaults to the schema snapshot's")
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: query-engine [-dialect sqlserver|postgres|sqlite] <question>")
		os.Exit(2)
	}

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	provider := schema.NewFileProvider(cfg.SchemaSnapshotPath)

	dialect := resolveDialect(*dialectFlag, provider, cfg)
	gateway, closeGateway, err := openGateway(ctx, dialect, cfg)
	if err != nil {
		log.Fatalf("Failed to open database gateway: %v", logging.SanitizeError(err))
	}
	defer closeGateway()

	eng := engine.New(cfg, logger, provider, gateway, nil)
	payload := eng.Answer(ctx, question, *dialectFlag)

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode payload: %v", err)
	}
	fmt.Println(string(out))

	if payload.Status != "success" {
		os.Exit(1)
	}
}

// resolveDialect mirrors the engine's resolution order so the right driver is
// dialed before the pipeline runs.
func resolveDialect(explicit string, provider schema.Provider, cfg *config.Config) schema.Dialect {
	if d := schema.ParseDialect(explicit); d != "" {
		return d
	}
	if snapshot, err := provider.Snapshot(); err == nil && snapshot.Dialect != "" {
		return snapshot.Dialect
	}
	if d := schema.ParseDialect(cfg.DefaultDialect); d != "" {
		return d
	}
	return schema.DialectSQLServer
}

// openGateway dials the driver for the resolved dialect. Open failures wrap
// the sanitized DSN so the fatal log never leaks credentials.
func openGateway(ctx context.Context, dialect schema.Dialect, cfg *config.Config) (executor.DatabaseGateway, func(), error) {
	switch dialect {
	case schema.DialectPostgres:
		gw, err := postgresgw.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres %s: %w", logging.SanitizeConnectionString(cfg.Database.PostgresDSN), err)
		}
		return gw, gw.Close, nil
	case schema.DialectSQLite:
		gw, err := sqlitegw.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.Database.SQLitePath, err)
		}
		return gw, func() { _ = gw.Close() }, nil
	default:
		gw, err := mssqlgw.Open(cfg.Database.SQLServerDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlserver %s: %w", logging.SanitizeConnectionString(cfg.Database.SQLServerDSN), err)
		}
		return gw, func() { _ = gw.Close() }, nil
	}
}
