// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lmchat/internal/model"
)

// =============================================================================
// SHARED BEHAVIOUR
// =============================================================================

// backends returns a fresh store of every kind available in this environment.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	out := map[string]Store{"memory": NewMemoryStore()}

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "conversations"))
	require.NoError(t, err)
	out["file"] = fs

	sq, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "lmchat.db"))
	require.NoError(t, err)
	out["sqlite"] = sq

	if dsn := os.Getenv("LMCHAT_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		_, err = pg.db.Exec(ctx, `TRUNCATE lmchat_conversations CASCADE`)
		require.NoError(t, err)
		out["postgres"] = pg
	}

	for _, s := range out {
		t.Cleanup(func() { s.Close() })
	}
	return out
}

func TestStore_CreateDefaultTitles(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := s.CreateConversation(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, "Chat 1", a.Title)
			assert.NotEmpty(t, a.ID)
			assert.False(t, a.CreatedAt.IsZero())
			assert.Zero(t, a.MessageCount)

			b, err := s.CreateConversation(ctx, "Named")
			require.NoError(t, err)
			assert.Equal(t, "Named", b.Title)

			c, err := s.CreateConversation(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, "Chat 3", c.Title)
			assert.NotEqual(t, a.ID, c.ID)
		})
	}
}

func TestStore_ListOldestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := s.ListConversations(ctx)
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			var ids []string
			for _, title := range []string{"one", "two", "three"} {
				c, err := s.CreateConversation(ctx, title)
				require.NoError(t, err)
				ids = append(ids, c.ID)
				time.Sleep(2 * time.Millisecond)
			}

			list, err := s.ListConversations(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			for i, c := range list {
				assert.Equal(t, ids[i], c.ID)
			}
		})
	}
}

func TestStore_MessagesAndCounts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := s.CreateConversation(ctx, "")
			require.NoError(t, err)

			msgs, err := s.ListMessages(ctx, c.ID)
			require.NoError(t, err)
			assert.NotNil(t, msgs)
			assert.Empty(t, msgs)

			n, err := s.AppendMessage(ctx, c.ID, model.Message{Role: model.RoleUser, Content: "hi"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = s.AppendMessage(ctx, c.ID, model.NewAssistantMessage("hello there"))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			msgs, err = s.ListMessages(ctx, c.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, model.RoleUser, msgs[0].Role)
			assert.Equal(t, "hi", msgs[0].Content)
			assert.False(t, msgs[0].Timestamp.IsZero())
			assert.Equal(t, model.RoleAssistant, msgs[1].Role)
			assert.Equal(t, "hello there", msgs[1].Content)

			got, err := s.GetConversation(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.MessageCount)

			list, err := s.ListConversations(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, 2, list[0].MessageCount)
		})
	}
}

func TestStore_SetTitle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := s.CreateConversation(ctx, "")
			require.NoError(t, err)

			require.NoError(t, s.SetTitle(ctx, c.ID, "Renamed"))
			got, err := s.GetConversation(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Title)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.CreateConversation(ctx, "a")
			require.NoError(t, err)
			b, err := s.CreateConversation(ctx, "b")
			require.NoError(t, err)
			_, err = s.AppendMessage(ctx, a.ID, model.NewUserMessage("x"))
			require.NoError(t, err)

			require.NoError(t, s.DeleteConversation(ctx, a.ID))

			list, err := s.ListConversations(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, b.ID, list[0].ID)

			_, err = s.ListMessages(ctx, a.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteConversation(ctx, a.ID), ErrNotFound)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			missing := "00000000-0000-4000-8000-000000000000"

			_, err := s.GetConversation(ctx, missing)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.ListMessages(ctx, missing)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.AppendMessage(ctx, missing, model.NewUserMessage("x"))
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.SetTitle(ctx, missing, "t"), ErrNotFound)
			assert.ErrorIs(t, s.DeleteConversation(ctx, missing), ErrNotFound)
		})
	}
}

// =============================================================================
// BACKEND SPECIFIC
// =============================================================================

func TestMemoryStore_ListMessagesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, c.ID, model.NewUserMessage("original"))
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	again, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestFileStore_RejectsPathLikeIDs(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../config", "a/b", "", ".."} {
		_, err := s.GetConversation(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
		assert.ErrorIs(t, s.DeleteConversation(ctx, id), ErrNotFound, id)
	}
}

func TestFileStore_SkipsCorruptedFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.CreateConversation(ctx, "good")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "11111111-1111-4111-8111-111111111111.json"), []byte("{broken"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Title)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	c, err := s1.CreateConversation(ctx, "kept")
	require.NoError(t, err)
	_, err = s1.AppendMessage(ctx, c.ID, model.NewUserMessage("hello"))
	require.NoError(t, err)

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	msgs, err := s2.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSQLiteStore_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	s1, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	c, err := s1.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = s1.AppendMessage(ctx, c.ID, model.NewUserMessage("persisted"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chat 1", got.Title)
	assert.Equal(t, 1, got.MessageCount)
	assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Backend: "file", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Options{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Backend: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)
}
