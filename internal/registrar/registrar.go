// Package registrar lazily creates server records on watcher logins.
package registrar

import (
	"context"
	"errors"
	"log/slog"

	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/storage"
)

// ServerRepository is the slice of the storage layer the registrar needs.
type ServerRepository interface {
	GetServer(ctx context.Context, userID, hostname string) (storage.ServerRecord, error)
	CreateServer(ctx context.Context, userID, hostname string) (string, error)
}

// Registrar consumes watcher.login.attempt events and idempotently ensures
// a server record exists for (user, hostname). The read-then-insert check
// avoids useless inserts; the unique constraint on (user_id, hostname) is
// the backstop when concurrent logins race past it.
type Registrar struct {
	Repo   ServerRepository
	Logger *slog.Logger
}

func (g *Registrar) HandleWatcherLogin(ctx context.Context, evt bus.WatcherLoginAttemptEvent) {
	if _, err := g.Repo.GetServer(ctx, evt.UserID, evt.Hostname); err == nil {
		g.Logger.Info("server already registered",
			slog.String("userId", evt.UserID),
			slog.String("hostname", evt.Hostname))
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		g.Logger.Error("failed to look up server",
			slog.String("userId", evt.UserID),
			slog.String("hostname", evt.Hostname),
			slog.String("error", err.Error()))
		return
	}

	if _, err := g.Repo.CreateServer(ctx, evt.UserID, evt.Hostname); err != nil {
		g.Logger.Error("failed to register server",
			slog.String("userId", evt.UserID),
			slog.String("hostname", evt.Hostname),
			slog.String("error", err.Error()))
		return
	}

	g.Logger.Info("server registered",
		slog.String("userId", evt.UserID),
		slog.String("hostname", evt.Hostname),
		slog.Bool("success", evt.Success),
		slog.String("timestamp", evt.Timestamp))
}
