// Package store はユーザーとセッションを永続化するストアゲートウェイの契約を定義します。
//
// 実装は mongostore（MongoDB）、redisstore（Redis）、memstore（プロセス内）の3種類です。
// 識別子はいずれも MongoDB の ObjectID（24桁の16進数）形式で払い出されます。
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 論理コレクション名
const (
	CollectionUsers    = "users"
	CollectionSessions = "sessions"
)

var (
	// ErrNotFound は該当ドキュメントが存在しない場合に返されます。
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate は一意制約（email など）に違反した場合に返されます。
	ErrDuplicate = errors.New("duplicate key")
	// ErrInvalidID は識別子の形式が不正な場合に返されます。
	ErrInvalidID = errors.New("invalid identifier")
)

// User は登録済みユーザーです。PasswordHash に平文が入ることはありません。
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	School       string             `bson:"school" json:"school"`
	PhoneNumber  string             `bson:"phoneNumber" json:"phoneNumber"`
	PasswordHash string             `bson:"password" json:"password"`
}

// Session はユーザーに紐づくサーバー側セッションです。ユーザーごとに高々1件です。
type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// UpsertResult は UpsertSession の結果です。
// Created が true の場合のみ ID に新しいセッションの識別子が入ります。
type UpsertResult struct {
	Created bool
	ID      primitive.ObjectID
}

// Gateway はストアゲートウェイの操作をまとめたインターフェースです。
type Gateway interface {
	// FindUserByEmail は email に一致するユーザーを返します。存在しない場合は ErrNotFound。
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// InsertUser はユーザーを保存し、払い出した識別子を返します。email 重複時は ErrDuplicate。
	InsertUser(ctx context.Context, user *User) (primitive.ObjectID, error)
	// UpsertSession は userID をキーにセッションを作成または createdAt を更新します。
	UpsertSession(ctx context.Context, userID primitive.ObjectID, createdAt time.Time) (UpsertResult, error)
	// FindSessionByUser は userID のセッションを返します。存在しない場合は ErrNotFound。
	FindSessionByUser(ctx context.Context, userID primitive.ObjectID) (*Session, error)
	// DeleteSession は id のセッションを削除します。該当がなくても成功します。
	DeleteSession(ctx context.Context, id primitive.ObjectID) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParseID は16進数文字列を識別子に変換します。
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return id, nil
}

// IsValidID は hex が識別子の形式を満たすかを返します。
func IsValidID(hex string) bool {
	return primitive.IsValidObjectID(hex)
}
