// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/lmchat/internal/model"
)

// memConversation is a conversation with its full log.
type memConversation struct {
	model.Conversation
	messages []model.Message
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	convs map[string]*memConversation
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConversation),
		now:   time.Now,
	}
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].snapshot())
	}
	return out, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = DefaultTitle(len(s.order) + 1)
	}
	c := &memConversation{Conversation: model.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: s.now(),
	}}
	s.convs[c.ID] = c
	s.order = append(s.order, c.ID)
	return c.snapshot(), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return c.snapshot(), nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := model.CloneMessages(c.messages)
	if out == nil {
		out = []model.Message{}
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, id string, msg model.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return 0, ErrNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	c.messages = append(c.messages, msg)
	return len(c.messages), nil
}

func (s *MemoryStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (c *memConversation) snapshot() model.Conversation {
	conv := c.Conversation
	conv.MessageCount = len(c.messages)
	return conv
}
