package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bzforge/bzfs/internal/config"
	"github.com/bzforge/bzfs/internal/database"
	"github.com/bzforge/bzfs/internal/storage"
	gormstorage "github.com/bzforge/bzfs/internal/storage/gorm"
	"github.com/bzforge/bzfs/internal/storage/memory"
	sqlitestorage "github.com/bzforge/bzfs/internal/storage/sqlite"
	wsstorage "github.com/bzforge/bzfs/internal/storage/websocket"
	"github.com/rs/zerolog"
)

func createStorageBackend(cfg config.Config, start time.Time, logger *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	storageCfg := cfg.Storage
	switch storageCfg.Type {
	case "postgres":
		dbm := database.NewManager(zlog.With().Str("component", "database").Logger())
		dbm.SqliteFilePath = sqlitePath(cfg, start)
		if err := dbm.Connect(cfg.DB); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("Postgres storage backend initialized", "local", dbm.ShouldSaveLocal)
		return gormstorage.New(gormstorage.Dependencies{DB: dbm.DB, Logger: logger}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     sqlitePath(cfg, start),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "path", backend.ExportedFilePath())
		return backend, nil

	case "websocket":
		wsURL := httpToWS(storageCfg.WebSocket.URL)
		logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: storageCfg.WebSocket.Secret,
		}, logger), nil

	case "memory", "":
		logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// sqlitePath stamps the configured file name with the run start so runs do
// not overwrite each other.
func sqlitePath(cfg config.Config, start time.Time) string {
	p := cfg.Storage.SQLite.Path
	if p == "" {
		p = filepath.Join(cfg.LogsDir, cfg.Server.Name+".db")
	}
	ext := filepath.Ext(p)
	return fmt.Sprintf("%s_%s%s", strings.TrimSuffix(p, ext), start.Format("20060102_150405"), ext)
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
