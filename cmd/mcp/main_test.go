package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nuclight.org/tg-collector/app/mcpserver"
	"nuclight.org/tg-collector/app/storage"
	e "nuclight.org/tg-collector/pkg/entities"
)

func TestRun_ListenOnStartWithoutToken(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.sqlite")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(ctx, log, options{
		TelegramWorkersNum: 1,
		ArchivePath:        path,
		ListenOnStart:      true,
	})
	require.ErrorIs(t, err, mcpserver.ErrNoToken)

	// the archive was closed and stays usable
	db, err := storage.NewSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	require.NoError(t, db.ArchiveMessage(ctx, "-100", e.Message{ID: 1, Date: time.Now()}))
}

func TestRun_BadArchivePath(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), log, options{
		TelegramWorkersNum: 1,
		ArchivePath:        filepath.Join(t.TempDir(), "missing", "dir", "archive.sqlite"),
	})
	require.ErrorContains(t, err, "creating sqlite3 archive")
}
