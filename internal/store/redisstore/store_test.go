package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestKeys(t *testing.T) {
	id, err := primitive.ObjectIDFromHex("65f0c1a2b3c4d5e6f7a8b9c0")
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "user:email:a@x.com", userKey("a@x.com"))
	assert.Equal(t, "session:user:65f0c1a2b3c4d5e6f7a8b9c0", sessionUserKey(id))
}

func TestConnectInvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, "redis://127.0.0.1:1/0")
	assert.Error(t, err)
}

func TestNewKeepsClient(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	s := New(rdb)
	assert.Same(t, rdb, s.rdb)
}

func TestParseSession(t *testing.T) {
	userID := primitive.NewObjectID()
	sessionID := primitive.NewObjectID()
	createdAt := time.Date(2026, 10, 1, 9, 0, 0, 123, time.UTC)

	t.Run("ok", func(t *testing.T) {
		session, err := parseSession(userID, []string{sessionID.Hex(), createdAt.Format(time.RFC3339Nano)})
		require.NoError(t, err)
		assert.Equal(t, sessionID, session.ID)
		assert.Equal(t, userID, session.UserID)
		assert.True(t, createdAt.Equal(session.CreatedAt))
	})

	t.Run("missing createdAt", func(t *testing.T) {
		session, err := parseSession(userID, []string{sessionID.Hex(), ""})
		require.NoError(t, err)
		assert.True(t, session.CreatedAt.IsZero())
	})

	for name, reply := range map[string][]string{
		"short reply": {sessionID.Hex()},
		"bad id":      {"not-hex", createdAt.Format(time.RFC3339Nano)},
		"bad time":    {sessionID.Hex(), "yesterday"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseSession(userID, reply)
			assert.Error(t, err)
		})
	}
}
