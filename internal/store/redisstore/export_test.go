package redisstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Flush はテスト用にDBを空にします。
func Flush(ctx context.Context, s *Store) error {
	return s.rdb.FlushDB(ctx).Err()
}

// DropSessionHash は索引を残したままセッション本体だけを消します。
func DropSessionHash(ctx context.Context, s *Store, id primitive.ObjectID) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+id.Hex()).Err()
}
