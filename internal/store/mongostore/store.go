// Package mongostore はユーザーとセッションを MongoDB に保存するストアゲートウェイです。
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yourusername/campus-auth/internal/store"
)

// Store は store.Gateway の MongoDB 実装です。
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	sessions *mongo.Collection
}

var _ store.Gateway = (*Store)(nil)

// Connect は MongoDB に接続し、疎通確認とインデックス作成まで行います。
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", "mongo").Wrap(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", "mongo").Wrap(err)
	}

	s := New(client, dbName)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New は接続済みクライアントから Store を作成します。
func New(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		client:   client,
		users:    db.Collection(store.CollectionUsers),
		sessions: db.Collection(store.CollectionSessions),
	}
}

// EnsureIndexes は users.email と sessions.userId の一意インデックスを作成します。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}); err != nil {
		return oops.Code("STORE_INDEX_FAILED").With("collection", store.CollectionUsers).Wrap(err)
	}
	// upsert の競合で同一ユーザーのセッションが2件にならないよう一意にする
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_id_unique"),
	}); err != nil {
		return oops.Code("STORE_INDEX_FAILED").With("collection", store.CollectionSessions).Wrap(err)
	}
	return nil
}

// FindUserByEmail は email に一致するユーザーを返します。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var user store.User
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, oops.Code("STORE_FAILURE").With("op", "find_user").Wrap(err)
	}
	return &user, nil
}

// InsertUser はユーザーを保存します。email 重複時は ErrDuplicate を返します。
func (s *Store) InsertUser(ctx context.Context, user *store.User) (primitive.ObjectID, error) {
	if user == nil {
		return primitive.NilObjectID, fmt.Errorf("user is nil")
	}
	doc := *user
	doc.ID = primitive.NilObjectID

	res, err := s.users.InsertOne(ctx, &doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, store.ErrDuplicate
		}
		return primitive.NilObjectID, oops.Code("STORE_FAILURE").With("op", "insert_user").Wrap(err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, oops.Code("STORE_FAILURE").Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id, nil
}

// UpsertSession は userID のセッションを作成、または createdAt を更新します。
func (s *Store) UpsertSession(ctx context.Context, userID primitive.ObjectID, createdAt time.Time) (store.UpsertResult, error) {
	filter := bson.M{"userId": userID}
	update := bson.M{"$set": bson.M{"createdAt": createdAt}}
	opts := options.Update().SetUpsert(true)

	res, err := s.sessions.UpdateOne(ctx, filter, update, opts)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		// 同時 upsert で負けた側。作成済みのドキュメントを更新する
		res, err = s.sessions.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return store.UpsertResult{}, oops.Code("STORE_FAILURE").With("op", "upsert_session").Wrap(err)
	}

	if res.UpsertedID == nil {
		return store.UpsertResult{}, nil
	}
	id, ok := res.UpsertedID.(primitive.ObjectID)
	if !ok {
		return store.UpsertResult{}, nil
	}
	return store.UpsertResult{Created: true, ID: id}, nil
}

// FindSessionByUser は userID のセッションを返します。
func (s *Store) FindSessionByUser(ctx context.Context, userID primitive.ObjectID) (*store.Session, error) {
	var session store.Session
	err := s.sessions.FindOne(ctx, bson.M{"userId": userID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, oops.Code("STORE_FAILURE").With("op", "find_session").Wrap(err)
	}
	return &session, nil
}

// DeleteSession はセッションを削除します。該当がなくてもエラーにしません。
func (s *Store) DeleteSession(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return oops.Code("STORE_FAILURE").With("op", "delete_session").Wrap(err)
	}
	return nil
}

// Ping はプライマリへの疎通を確認します。
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close は接続を切断します。
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
