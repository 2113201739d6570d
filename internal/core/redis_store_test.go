package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func redisStored(id string) *ThreatResponse {
	return &ThreatResponse{
		ResponseID:   id,
		ThreatID:     "threat-" + id,
		ResponseType: ResponseAlert,
		Severity:     SeverityLow,
		Status:       StatusPending,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ─── RedisResponseStore ─────────────────────────────────────────────────────

func TestRedisStore_InsertWritesRecordAndIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisResponseStore(db, time.Hour)

	resp := redisStored("r1")
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	mock.ExpectSet("aegis:response:r1", data, time.Hour).SetVal("OK")
	mock.ExpectZAdd("aegis:responses:index", &redis.Z{
		Score:  float64(resp.CreatedAt.Unix()),
		Member: "r1",
	}).SetVal(1)

	require.NoError(t, store.Insert(context.Background(), resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_FindDecodesRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisResponseStore(db, 0)

	resp := redisStored("r1")
	data, _ := json.Marshal(resp)
	mock.ExpectGet("aegis:response:r1").SetVal(string(data))

	found, err := store.Find(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ResponseID)
	assert.Equal(t, StatusPending, found.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_FindUnknownID(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisResponseStore(db, 0)

	mock.ExpectGet("aegis:response:missing").RedisNil()

	_, err := store.Find(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrResponseNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ListNewestFirst(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisResponseStore(db, 0)

	newRec := redisStored("new")
	oldRec := redisStored("old")
	newData, _ := json.Marshal(newRec)
	oldData, _ := json.Marshal(oldRec)

	mock.ExpectZRevRange("aegis:responses:index", 0, 1).SetVal([]string{"new", "old"})
	mock.ExpectGet("aegis:response:new").SetVal(string(newData))
	mock.ExpectGet("aegis:response:old").SetVal(string(oldData))

	out, err := store.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].ResponseID)
	assert.Equal(t, "old", out[1].ResponseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ListSkipsExpiredRecords(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisResponseStore(db, 0)

	keep := redisStored("keep")
	data, _ := json.Marshal(keep)

	mock.ExpectZRevRange("aegis:responses:index", 0, -1).SetVal([]string{"gone", "keep"})
	mock.ExpectGet("aegis:response:gone").RedisNil()
	mock.ExpectGet("aegis:response:keep").SetVal(string(data))

	out, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "keep", out[0].ResponseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
