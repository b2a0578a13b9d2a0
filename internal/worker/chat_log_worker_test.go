package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/model"
)

type memoryStore struct {
	entries []model.ChatLog
	err     error
}

func (m *memoryStore) Create(_ context.Context, entry *model.ChatLog) error {
	if m.err != nil {
		return m.err
	}
	entry.ID = uint(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func newTestWorker(store ChatLogStore) *ChatLogWorker {
	var logs bytes.Buffer
	return NewChatLogWorker(nil, store, "chat.log.persist", log.New(&logs, "", 0))
}

func TestHandle_StoresEntry(t *testing.T) {
	store := &memoryStore{}
	body, err := json.Marshal(model.ChatLog{ID: 99, UserID: 3, Query: "q", Answer: "a"})
	require.NoError(t, err)

	require.NoError(t, newTestWorker(store).handle(context.Background(), body))
	require.Len(t, store.entries, 1)
	assert.Equal(t, uint(1), store.entries[0].ID)
	assert.Equal(t, uint(3), store.entries[0].UserID)
	assert.Equal(t, "a", store.entries[0].Answer)
}

func TestHandle_RejectsBadPayloads(t *testing.T) {
	w := newTestWorker(&memoryStore{})

	assert.Error(t, w.handle(context.Background(), []byte("{")))
	assert.ErrorIs(t, w.handle(context.Background(), []byte(`{"user_id":0,"query":"q"}`)), errInvalidChatLog)
	assert.ErrorIs(t, w.handle(context.Background(), []byte(`{"user_id":1,"query":"  "}`)), errInvalidChatLog)
}

func TestHandle_StoreError(t *testing.T) {
	w := newTestWorker(&memoryStore{err: errors.New("mysql gone")})
	assert.Error(t, w.handle(context.Background(), []byte(`{"user_id":1,"query":"q","answer":"a"}`)))
}

func TestClose_WithoutStart(t *testing.T) {
	newTestWorker(&memoryStore{}).Close()
}
