// Package redisstore はユーザーとセッションを Redis に保存するストアゲートウェイです。
//
// Lua スクリプトはセッションキーをスクリプト内で組み立てるため、単一ノードの Redis
// （またはレプリカ構成）のみを対象とします。Redis Cluster には対応しません。
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourusername/campus-auth/internal/store"
)

const (
	userKeyPrefix        = "user:email:"
	sessionKeyPrefix     = "session:id:"
	sessionUserKeyPrefix = "session:user:"
)

// upsertScript は userId をキーにしたセッションの作成/更新を原子的に行います。
// KEYS[1]: session:user:<userId>
// ARGV: 新規セッションID, userId, createdAt, セッションキーのプレフィックス
var upsertScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  local key = ARGV[4] .. existing
  if redis.call('EXISTS', key) == 1 then
    redis.call('HSET', key, 'createdAt', ARGV[3])
    return {0, existing}
  end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', ARGV[4] .. ARGV[1], 'userId', ARGV[2], 'createdAt', ARGV[3])
return {1, ARGV[1]}
`)

// findSessionScript は userId 索引とセッション本体を1回で読み出します。
// KEYS[1]: session:user:<userId>
// ARGV: セッションキーのプレフィックス
var findSessionScript = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if not id then
  return false
end
local key = ARGV[1] .. id
if redis.call('EXISTS', key) == 0 then
  return false
end
local createdAt = redis.call('HGET', key, 'createdAt') or ''
return {id, createdAt}
`)

// deleteScript はセッション本体と userId 索引をまとめて削除します。
// KEYS[1]: session:id:<id>
// ARGV: 索引キーのプレフィックス, セッションID
var deleteScript = redis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'userId')
redis.call('DEL', KEYS[1])
if uid then
  local idx = ARGV[1] .. uid
  if redis.call('GET', idx) == ARGV[2] then
    redis.call('DEL', idx)
  end
end
return 1
`)

// Store は store.Gateway の Redis 実装です。
type Store struct {
	rdb *redis.Client
}

var _ store.Gateway = (*Store)(nil)

// New は Store を作成します。
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Connect は URL から単一ノードの Redis に接続し、疎通を確認します。
func Connect(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", "redis").Wrap(err)
	}
	return New(rdb), nil
}

// FindUserByEmail は email に一致するユーザーを返します。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	data, err := s.rdb.Get(ctx, userKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, oops.Code("STORE_FAILURE").With("op", "find_user").Wrap(err)
	}
	var user store.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, oops.Code("STORE_CORRUPT_DOCUMENT").With("collection", store.CollectionUsers).Wrap(err)
	}
	return &user, nil
}

// InsertUser はユーザーを保存します。email のキーが既にあれば ErrDuplicate を返します。
func (s *Store) InsertUser(ctx context.Context, user *store.User) (primitive.ObjectID, error) {
	if user == nil {
		return primitive.NilObjectID, fmt.Errorf("user is nil")
	}
	doc := *user
	doc.ID = primitive.NewObjectID()

	payload, err := json.Marshal(&doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	ok, err := s.rdb.SetNX(ctx, userKey(doc.Email), payload, 0).Result()
	if err != nil {
		return primitive.NilObjectID, oops.Code("STORE_FAILURE").With("op", "insert_user").Wrap(err)
	}
	if !ok {
		return primitive.NilObjectID, store.ErrDuplicate
	}
	return doc.ID, nil
}

// UpsertSession は userID のセッションを作成、または createdAt を更新します。
func (s *Store) UpsertSession(ctx context.Context, userID primitive.ObjectID, createdAt time.Time) (store.UpsertResult, error) {
	newID := primitive.NewObjectID()
	res, err := upsertScript.Run(ctx, s.rdb,
		[]string{sessionUserKey(userID)},
		newID.Hex(), userID.Hex(), createdAt.UTC().Format(time.RFC3339Nano), sessionKeyPrefix,
	).Slice()
	if err != nil {
		return store.UpsertResult{}, oops.Code("STORE_FAILURE").With("op", "upsert_session").Wrap(err)
	}
	if len(res) != 2 {
		return store.UpsertResult{}, oops.Code("STORE_FAILURE").Errorf("unexpected upsert reply: %v", res)
	}
	created, _ := res[0].(int64)
	if created != 1 {
		return store.UpsertResult{}, nil
	}
	return store.UpsertResult{Created: true, ID: newID}, nil
}

// FindSessionByUser は userID のセッションを返します。
func (s *Store) FindSessionByUser(ctx context.Context, userID primitive.ObjectID) (*store.Session, error) {
	reply, err := findSessionScript.Run(ctx, s.rdb,
		[]string{sessionUserKey(userID)},
		sessionKeyPrefix,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, oops.Code("STORE_FAILURE").With("op", "find_session").Wrap(err)
	}
	return parseSession(userID, reply)
}

// parseSession は findSessionScript の応答 {id, createdAt} を Session に変換します。
func parseSession(userID primitive.ObjectID, reply []string) (*store.Session, error) {
	if len(reply) != 2 {
		return nil, oops.Code("STORE_FAILURE").Errorf("unexpected find reply: %v", reply)
	}
	id, err := store.ParseID(reply[0])
	if err != nil {
		return nil, oops.Code("STORE_CORRUPT_DOCUMENT").With("collection", store.CollectionSessions).Wrap(err)
	}

	session := &store.Session{ID: id, UserID: userID}
	if raw := reply[1]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, oops.Code("STORE_CORRUPT_DOCUMENT").With("collection", store.CollectionSessions).Wrap(err)
		}
		session.CreatedAt = createdAt
	}
	return session, nil
}

// DeleteSession はセッションを削除します。該当がなくてもエラーにしません。
func (s *Store) DeleteSession(ctx context.Context, id primitive.ObjectID) error {
	err := deleteScript.Run(ctx, s.rdb,
		[]string{sessionKeyPrefix + id.Hex()},
		sessionUserKeyPrefix, id.Hex(),
	).Err()
	if err != nil {
		return oops.Code("STORE_FAILURE").With("op", "delete_session").Wrap(err)
	}
	return nil
}

// Ping は Redis への疎通を確認します。
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close は接続を閉じます。
func (s *Store) Close(ctx context.Context) error {
	return s.rdb.Close()
}

func userKey(email string) string {
	return userKeyPrefix + email
}

func sessionUserKey(userID primitive.ObjectID) string {
	return sessionUserKeyPrefix + userID.Hex()
}
