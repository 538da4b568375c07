// Package app wires the application together.
//
// Setup builds every component in dependency order and returns an App
// whose Close releases them in reverse. Components never construct their
// own dependencies; everything flows through here.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdoc/askdoc/internal/api"
	"github.com/askdoc/askdoc/internal/chat"
	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/document"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/retrieval"
	"github.com/askdoc/askdoc/internal/storage"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool          *pgxpool.Pool
	Blobs         *storage.Store
	Documents     *document.Store
	Chunks        *retrieval.Store
	Conversations *conversation.Store
	LLM           *llm.Client
	Indexer       *document.Indexer
	Assistant     *chat.Assistant
	Server        *api.Server

	otelShutdown func()
}

// Close shuts components down in reverse construction order. The indexer
// drains first so in-flight documents finish against a live pool.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Indexer != nil {
		a.Indexer.Close()
	}
	if a.Assistant != nil {
		a.Assistant.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
	}
	return nil
}
