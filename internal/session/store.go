package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id has no live session.
var ErrNotFound = errors.New("session not found")

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Immutable once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FileRecord describes one ingested upload attached to a session.
type FileRecord struct {
	Filename string `json:"filename"`
	Kind     string `json:"type"` // "text_file" or "file"
	MimeType string `json:"mimetype,omitempty"`
	Content  string `json:"content,omitempty"` // bounded text preview, text files only
	Size     int64  `json:"size"`
	Path     string `json:"path"`
}

// session is the store's internal record. Its own mutex serializes mutations
// so operations on distinct session ids never contend with each other.
type session struct {
	mu        sync.Mutex
	messages  []Message
	files     []FileRecord
	createdAt time.Time
}

// Snapshot is a point-in-time copy of a session's state, safe to use without
// holding any store locks.
type Snapshot struct {
	Messages  []Message
	Files     []FileRecord
	CreatedAt time.Time
}

// Store holds all live sessions in memory. State is lost on restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session),
	}
}

// Create inserts a new empty session and returns its opaque id.
func (s *Store) Create() string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{
		messages:  []Message{},
		files:     []FileRecord{},
		createdAt: time.Now(),
	}
	return id
}

// lookup fetches the live session record for id.
func (s *Store) lookup(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Exists reports whether id refers to a live session.
func (s *Store) Exists(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// Get returns a snapshot of the session's messages, files and creation time.
func (s *Store) Get(id string) (Snapshot, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	snap := Snapshot{
		Messages:  make([]Message, len(sess.messages)),
		Files:     make([]FileRecord, len(sess.files)),
		CreatedAt: sess.createdAt,
	}
	copy(snap.Messages, sess.messages)
	copy(snap.Files, sess.files)
	return snap, nil
}

// AppendMessage appends one message to the session's conversation. Messages
// are never reordered or mutated after append.
func (s *Store) AppendMessage(id string, role Role, content string) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = append(sess.messages, Message{Role: role, Content: content})
	return nil
}

// AppendFile attaches a file record to the session.
func (s *Store) AppendFile(id string, record FileRecord) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.files = append(sess.files, record)
	return nil
}

// Clear resets the session's messages and files. The session record itself
// is retained, so the id stays valid.
func (s *Store) Clear(id string) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = []Message{}
	sess.files = []FileRecord{}
	return nil
}

// Sweep removes every session whose age exceeds maxAge and returns how many
// were removed. Triggered externally; there is no internal timer.
func (s *Store) Sweep(maxAge time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.createdAt) > maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
