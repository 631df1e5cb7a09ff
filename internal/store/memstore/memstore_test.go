package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/goleak"

	"github.com/yourusername/campus-auth/internal/store"
	"github.com/yourusername/campus-auth/internal/store/storetest"
)

func TestGatewayContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Gateway { return New() })
}

func TestInsertAndFindUser(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.InsertUser(ctx, &store.User{Name: "A", Email: "a@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	got, err := s.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "A", got.Name)

	_, err = s.FindUserByEmail(ctx, "missing@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertUser(ctx, &store.User{Email: "a@x.com"})
	require.NoError(t, err)

	_, err = s.InsertUser(ctx, &store.User{Email: "a@x.com"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, 1, s.CountUsers())
}

func TestUpsertSessionKeepsOnePerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := primitive.NewObjectID()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.UpsertSession(ctx, userID, first)
	require.NoError(t, err)
	require.True(t, res.Created)

	res2, err := s.UpsertSession(ctx, userID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.True(t, res2.ID.IsZero())

	session, err := s.FindSessionByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, session.ID)
	assert.Equal(t, first.Add(time.Hour), session.CreatedAt)
	assert.Equal(t, 1, s.CountSessions())
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	userID := primitive.NewObjectID()

	res, err := s.UpsertSession(ctx, userID, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, res.ID))
	require.NoError(t, s.DeleteSession(ctx, res.ID))
	require.NoError(t, s.DeleteSession(ctx, primitive.NewObjectID()))

	_, err = s.FindSessionByUser(ctx, userID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, s.CountSessions())
}

func TestConcurrentUpsertCreatesSingleSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s := New()
	userID := primitive.NewObjectID()

	const workers = 16
	var wg sync.WaitGroup
	created := make(chan primitive.ObjectID, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.UpsertSession(ctx, userID, time.Now())
			if err == nil && res.Created {
				created <- res.ID
			}
		}()
	}
	wg.Wait()
	close(created)

	var ids []primitive.ObjectID
	for id := range created {
		ids = append(ids, id)
	}
	require.Len(t, ids, 1)
	assert.Equal(t, 1, s.CountSessions())
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	_, err := s.FindUserByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
