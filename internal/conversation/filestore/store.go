// Package filestore persists conversations as one JSON document per
// conversation under a base directory, in the style of the session file store:
// exclusive create, whole-file writes, and a read cache in front of the disk.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"glitchcube/internal/conversation"
	"glitchcube/internal/logging"
	id "glitchcube/internal/utils/id"
)

const defaultCacheSize = 256

type store struct {
	baseDir string
	logger  logging.Logger
	now     func() time.Time

	// locks serializes read-modify-write cycles per conversation.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cache *lru.Cache[string, *conversation.Conversation]
}

// Option customizes the store.
type Option func(*store)

// WithClock overrides the store's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *store) { s.logger = logging.OrNop(logger) }
}

// New creates a file-backed conversation store rooted at baseDir.
func New(baseDir string, opts ...Option) (conversation.Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}

	cache, err := lru.New[string, *conversation.Conversation](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}

	s := &store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("ConversationFileStore"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		cache:   cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *store) lockFor(conversationID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[conversationID] = mu
	}
	return mu
}

// validID reports whether the id is safe to use as a file name under the
// base directory. Generated ids are prefix + ksuid/uuid, so anything outside
// that charset (path separators, dots, "..") is rejected before it can name a
// file elsewhere on disk.
func validID(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func (s *store) path(conversationID string) string {
	return filepath.Join(s.baseDir, conversationID+".json")
}

func (s *store) Create(_ context.Context, conversationID string) (*conversation.Conversation, error) {
	if conversationID == "" {
		conversationID = id.NewConversationID()
	}
	if !validID(conversationID) {
		return nil, fmt.Errorf("invalid conversation id %q", conversationID)
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.read(conversationID); err == nil {
		return existing.Clone(), nil
	}

	now := s.now()
	conv := &conversation.Conversation{
		ID:        conversationID,
		Status:    conversation.StatusActive,
		Metadata:  conversation.Metadata{Version: conversation.MetadataVersion},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path(conversationID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create conversation file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write conversation: %w", err)
	}

	s.cache.Add(conversationID, conv.Clone())
	return conv, nil
}

// read loads a conversation, consulting the cache first. Callers that mutate
// must hold the conversation's lock.
func (s *store) read(conversationID string) (*conversation.Conversation, error) {
	if !validID(conversationID) {
		return nil, conversation.ErrNotFound
	}
	if cached, ok := s.cache.Get(conversationID); ok {
		return cached.Clone(), nil
	}

	data, err := os.ReadFile(s.path(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, conversation.ErrNotFound
		}
		return nil, fmt.Errorf("read conversation %s: %w", conversationID, err)
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.logger.Error("Failed to decode conversation file %s: %v", conversationID, err)
		return nil, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	s.cache.Add(conversationID, conv.Clone())
	return &conv, nil
}

// write persists a conversation and refreshes the cache. Callers must hold
// the conversation's lock.
func (s *store) write(conv *conversation.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	dest := s.path(conv.ID)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp conversation: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename conversation: %w", err)
	}
	s.cache.Add(conv.ID, conv.Clone())
	return nil
}

func (s *store) Get(_ context.Context, conversationID string) (*conversation.Conversation, error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()
	return s.read(conversationID)
}

func (s *store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *store) ListActive(ctx context.Context) ([]*conversation.Conversation, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*conversation.Conversation
	for _, cid := range ids {
		conv, err := s.Get(ctx, cid)
		if err != nil {
			s.logger.Warn("Skipping unreadable conversation %s: %v", cid, err)
			continue
		}
		if conv.Status == conversation.StatusActive {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *store) Update(_ context.Context, conversationID string, fn func(*conversation.Conversation) error) error {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.read(conversationID)
	if err != nil {
		return err
	}
	if conv.Status == conversation.StatusEnded {
		return conversation.ErrEnded
	}
	if err := fn(conv); err != nil {
		return err
	}
	conv.UpdatedAt = s.now()
	return s.write(conv)
}

func (s *store) End(_ context.Context, conversationID string) error {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.read(conversationID)
	if err != nil {
		return err
	}
	if conv.Status == conversation.StatusEnded {
		return nil
	}
	conv.Status = conversation.StatusEnded
	conv.UpdatedAt = s.now()
	return s.write(conv)
}
