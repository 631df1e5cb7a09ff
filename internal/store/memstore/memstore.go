// Package memstore はプロセス内メモリで動くストアゲートウェイです。テストとローカル開発で使います。
package memstore

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourusername/campus-auth/internal/store"
)

// Store は store.Gateway のメモリ実装です。
type Store struct {
	mu       sync.Mutex
	users    map[string]store.User
	sessions map[primitive.ObjectID]store.Session
	byUser   map[primitive.ObjectID]primitive.ObjectID
}

var _ store.Gateway = (*Store)(nil)

// New は空の Store を作成します。
func New() *Store {
	return &Store{
		users:    make(map[string]store.User),
		sessions: make(map[primitive.ObjectID]store.Session),
		byUser:   make(map[primitive.ObjectID]primitive.ObjectID),
	}
}

// FindUserByEmail は email に一致するユーザーを返します。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

// InsertUser はユーザーを保存します。
func (s *Store) InsertUser(ctx context.Context, user *store.User) (primitive.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return primitive.NilObjectID, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Email]; exists {
		return primitive.NilObjectID, store.ErrDuplicate
	}
	doc := *user
	doc.ID = primitive.NewObjectID()
	s.users[doc.Email] = doc
	return doc.ID, nil
}

// UpsertSession は userID のセッションを作成、または createdAt を更新します。
func (s *Store) UpsertSession(ctx context.Context, userID primitive.ObjectID, createdAt time.Time) (store.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return store.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byUser[userID]; ok {
		session := s.sessions[id]
		session.CreatedAt = createdAt
		s.sessions[id] = session
		return store.UpsertResult{}, nil
	}

	session := store.Session{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		CreatedAt: createdAt,
	}
	s.sessions[session.ID] = session
	s.byUser[userID] = session.ID
	return store.UpsertResult{Created: true, ID: session.ID}, nil
}

// FindSessionByUser は userID のセッションを返します。
func (s *Store) FindSessionByUser(ctx context.Context, userID primitive.ObjectID) (*store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := s.sessions[id]
	return &session, nil
}

// DeleteSession はセッションを削除します。該当がなくてもエラーにしません。
func (s *Store) DeleteSession(ctx context.Context, id primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.sessions, id)
	if s.byUser[session.UserID] == id {
		delete(s.byUser, session.UserID)
	}
	return nil
}

// Ping は常に成功します。
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close は何もしません。
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// CountUsers は保存済みユーザー数を返します。
func (s *Store) CountUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// CountSessions は保存済みセッション数を返します。
func (s *Store) CountSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
