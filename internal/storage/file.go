// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/util"
)

// =============================================================================
// STORED DOCUMENT
// =============================================================================

// storedConversation is the on-disk form of one conversation.
type storedConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []model.Message `json:"messages"`
}

func (c *storedConversation) listing() model.Conversation {
	return model.Conversation{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		MessageCount: len(c.Messages),
	}
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation in BaseDir/<id>.json.
type FileStore struct {
	// BaseDir is the directory holding conversation documents
	// Default: ~/.lmchat/conversations/
	BaseDir string

	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("storage: file backend needs a directory")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", baseDir, err)
	}
	return &FileStore{BaseDir: baseDir, now: time.Now}, nil
}

func (s *FileStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.listing())
	}
	return out, nil
}

func (s *FileStore) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		docs, err := s.loadAll()
		if err != nil {
			return model.Conversation{}, err
		}
		title = DefaultTitle(len(docs) + 1)
	}
	now := s.now()
	doc := &storedConversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.Message{},
	}
	if err := s.save(doc); err != nil {
		return model.Conversation{}, err
	}
	return doc.listing(), nil
}

func (s *FileStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(id)
	if err != nil {
		return model.Conversation{}, err
	}
	return doc.listing(), nil
}

func (s *FileStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.filePath(id)
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if doc.Messages == nil {
		return []model.Message{}, nil
	}
	return doc.Messages, nil
}

func (s *FileStore) AppendMessage(ctx context.Context, id string, msg model.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(id)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	doc.Messages = append(doc.Messages, msg)
	doc.UpdatedAt = now
	if err := s.save(doc); err != nil {
		return 0, err
	}
	return len(doc.Messages), nil
}

func (s *FileStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(id)
	if err != nil {
		return err
	}
	doc.Title = title
	doc.UpdatedAt = s.now()
	return s.save(doc)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the document path for id. Only uuids are accepted so a
// request path can never escape BaseDir.
func (s *FileStore) filePath(id string) (string, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return filepath.Join(s.BaseDir, strings.ToLower(id)+".json"), true
}

func (s *FileStore) load(id string) (*storedConversation, error) {
	path, ok := s.filePath(id)
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	var doc storedConversation
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", id, err)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *storedConversation) error {
	path, ok := s.filePath(doc.ID)
	if !ok {
		return fmt.Errorf("storage: invalid conversation id %q", doc.ID)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0600)
}

// loadAll reads every document, oldest first. Corrupted files are skipped.
func (s *FileStore) loadAll() ([]*storedConversation, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", s.BaseDir, err)
	}

	var docs []*storedConversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}
