// Package auth はユーザー登録・ログイン・ログアウトとセッション発行を提供します。
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/campus-auth/internal/store"
)

// Service は資格情報の検証とセッション発行を行います。
// 状態はストアにのみ持ち、呼び出し間で保持するものはありません。
type Service struct {
	store  store.Gateway
	hasher PasswordHasher
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService は Service を作成します。
func NewService(gw store.Gateway, hasher PasswordHasher) *Service {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	return &Service{
		store:  gw,
		hasher: hasher,
		now:    time.Now,
	}
}

// Register は入力を検証してユーザーを作成し、セッションIDを返します。
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", validationError("password", "パスワードが長すぎます（72バイトまで）。")
		}
		return "", internalError(oops.Code("PASSWORD_HASH_FAILED").Wrap(err))
	}

	user := &store.User{
		Name:         in.Name,
		Email:        in.Email,
		School:       in.School,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: hashed,
	}
	id, err := s.store.InsertUser(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", ErrUserExists
		}
		return "", internalError(err)
	}
	user.ID = id

	return s.CreateSession(ctx, user)
}

// Login は email とパスワードを照合し、セッションIDを返します。
// email 不明とパスワード不一致はどちらも ErrInvalidCredentials です。
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	if err := validateLogin(email, password); err != nil {
		return "", err
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 応答時間から登録有無が分からないよう照合だけは行う
			_, _ = s.hasher.Verify(password, s.placeholderHash())
			return "", ErrInvalidCredentials
		}
		return "", internalError(err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return "", internalError(oops.Code("PASSWORD_VERIFY_FAILED").With("user_id", user.ID.Hex()).Wrap(err))
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	return s.CreateSession(ctx, user)
}

// Logout はセッションを削除します。該当セッションがなくても成功します。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return validationError("sessionId", "不正なリクエストです。")
	}
	id, err := store.ParseID(sessionID)
	if err != nil {
		return validationError("sessionId", "不正なリクエストです。")
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return internalError(err)
	}
	return nil
}

// CreateSession はユーザーのセッションを作成（既存なら createdAt を更新）し、そのIDを返します。
// user は保存済みで ID を持っている必要があります。
func (s *Service) CreateSession(ctx context.Context, user *store.User) (string, error) {
	if user == nil || user.ID.IsZero() {
		return "", internalError(oops.Code("SESSION_USER_UNSAVED").Errorf("user has no identifier"))
	}

	// upsert と参照の間にログアウトされた場合は、もう一度だけ作り直す
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.store.UpsertSession(ctx, user.ID, s.now().UTC())
		if err != nil {
			return "", internalError(err)
		}
		if res.Created && !res.ID.IsZero() {
			return res.ID.Hex(), nil
		}

		session, err := s.store.FindSessionByUser(ctx, user.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", internalError(err)
		}
		if session != nil && !session.ID.IsZero() {
			return session.ID.Hex(), nil
		}
	}

	return "", internalError(oops.Code("SESSION_UNRESOLVED").
		With("user_id", user.ID.Hex()).
		Errorf("session missing after upsert"))
}

// placeholderHash は存在しないユーザーとの照合に使うハッシュです。
func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash("campus-auth-placeholder")
		if err == nil {
			s.dummyHash = hashed
		}
	})
	return s.dummyHash
}
