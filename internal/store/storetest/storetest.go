// Package storetest は store.Gateway 実装が共通で満たすべき振る舞いのテストを提供します。
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourusername/campus-auth/internal/store"
)

// Factory はテストごとに空のゲートウェイを返します。
type Factory func(t *testing.T) store.Gateway

// Run はゲートウェイの契約テストを実行します。
func Run(t *testing.T, newGateway Factory) {
	t.Run("InsertAndFindUser", func(t *testing.T) { testInsertAndFindUser(t, newGateway(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newGateway(t)) })
	t.Run("UpsertSession", func(t *testing.T) { testUpsertSession(t, newGateway(t)) })
	t.Run("DeleteSession", func(t *testing.T) { testDeleteSession(t, newGateway(t)) })
	t.Run("ConcurrentUpsert", func(t *testing.T) { testConcurrentUpsert(t, newGateway(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newGateway(t).Ping(context.Background())) })
}

func testInsertAndFindUser(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	in := &store.User{
		Name:         "A",
		Email:        "a@x.com",
		School:       "S",
		PhoneNumber:  "+2348012345678",
		PasswordHash: "$2a$10$hash",
	}

	id, err := gw.InsertUser(ctx, in)
	require.NoError(t, err)
	require.False(t, id.IsZero())

	got, err := gw.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.School, got.School)
	assert.Equal(t, in.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, in.PasswordHash, got.PasswordHash)

	_, err = gw.FindUserByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateEmail(t *testing.T, gw store.Gateway) {
	ctx := context.Background()

	_, err := gw.InsertUser(ctx, &store.User{Name: "A", Email: "dup@x.com"})
	require.NoError(t, err)

	_, err = gw.InsertUser(ctx, &store.User{Name: "B", Email: "dup@x.com"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := gw.FindUserByEmail(ctx, "dup@x.com")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func testUpsertSession(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	userID := primitive.NewObjectID()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := gw.UpsertSession(ctx, userID, first)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.False(t, res.ID.IsZero())

	second := first.Add(time.Minute)
	res2, err := gw.UpsertSession(ctx, userID, second)
	require.NoError(t, err)
	assert.False(t, res2.Created)

	session, err := gw.FindSessionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, session.ID)
	assert.Equal(t, userID, session.UserID)
	assert.True(t, second.Equal(session.CreatedAt), "createdAt = %v", session.CreatedAt)

	_, err = gw.FindSessionByUser(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteSession(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	userID := primitive.NewObjectID()

	res, err := gw.UpsertSession(ctx, userID, time.Now())
	require.NoError(t, err)

	require.NoError(t, gw.DeleteSession(ctx, res.ID))
	require.NoError(t, gw.DeleteSession(ctx, res.ID))
	require.NoError(t, gw.DeleteSession(ctx, primitive.NewObjectID()))

	_, err = gw.FindSessionByUser(ctx, userID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// 削除後のログインでは新しいセッションが作られる
	res2, err := gw.UpsertSession(ctx, userID, time.Now())
	require.NoError(t, err)
	assert.True(t, res2.Created)
	assert.NotEqual(t, res.ID, res2.ID)
}

func testConcurrentUpsert(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	userID := primitive.NewObjectID()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := gw.UpsertSession(ctx, userID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created)

	_, err := gw.FindSessionByUser(ctx, userID)
	require.NoError(t, err)
}
