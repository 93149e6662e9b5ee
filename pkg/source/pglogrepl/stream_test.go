package pglogrepl

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/pgfan/internal/testutil/pgtest"
	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	testConn := pgtest.Connect(ctx, t)

	// clean any existing test objects
	_, err := testConn.Exec(ctx, `
		DROP PUBLICATION IF EXISTS test_pub;
		SELECT pg_terminate_backend(active_pid)
		FROM pg_replication_slots
		WHERE slot_name = 'test_slot' AND active_pid IS NOT NULL;
		SELECT pg_drop_replication_slot(slot_name)
		FROM pg_replication_slots
		WHERE slot_name = 'test_slot';
	`)
	require.NoError(t, err)

	// create replication connection
	connConfig := pgtest.ParseConfig(t)
	connConfig.RuntimeParams["replication"] = "database"
	replConn, err := pgx.ConnectConfig(ctx, connConfig)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pgtest.Close(t, replConn)

		_, err := testConn.Exec(cleanupCtx, `
			DROP TABLE IF EXISTS test_stream;
			DROP PUBLICATION IF EXISTS test_pub;
			SELECT pg_terminate_backend(active_pid)
			FROM pg_replication_slots
			WHERE slot_name = 'test_slot' AND active_pid IS NOT NULL;
			SELECT pg_drop_replication_slot(slot_name)
			FROM pg_replication_slots
			WHERE slot_name = 'test_slot';
		`)
		require.NoError(t, err)
	})

	// test table
	_, err = testConn.Exec(ctx, `
		DROP TABLE IF EXISTS test_stream;
		CREATE TABLE test_stream (
			id SERIAL PRIMARY KEY,
			name TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	require.NoError(t, err)

	// replica identity full for complete UPDATE/DELETE info
	_, err = testConn.Exec(ctx, "ALTER TABLE test_stream REPLICA IDENTITY FULL")
	require.NoError(t, err)

	cfg := &Config{
		Publication:           "test_pub",
		Slot:                  "test_slot",
		Tables:                []string{"test_stream"},
		BufferSize:            100,
		StandbyUpdateInterval: time.Second,
	}

	events, err := Stream(ctx, replConn.PgConn(), cfg)
	require.NoError(t, err)

	// give replication a moment to be fully set up
	time.Sleep(500 * time.Millisecond)

	received := make(chan cdc.Event, 100)
	go func() {
		for event := range events {
			received <- event
		}
	}()

	exec := func(sql string, args ...any) {
		tx, err := testConn.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Exec(ctx, sql, args...)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
	}

	expect := func(op cdc.Operation, wantBefore, wantAfter bool) cdc.Event {
		t.Helper()
		select {
		case event := <-received:
			require.Equal(t, op, event.Payload.Op)
			require.Equal(t, "test_stream", event.Payload.Source.Table)
			if wantBefore {
				require.NotNil(t, event.Payload.Before)
			} else {
				require.Nil(t, event.Payload.Before)
			}
			if wantAfter {
				require.NotNil(t, event.Payload.After)
			} else {
				require.Nil(t, event.Payload.After)
			}
			return event
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s event", op)
			return cdc.Event{}
		}
	}

	exec("INSERT INTO test_stream (name) VALUES ($1)", "test1")
	event := expect(cdc.OpCreate, false, true)
	after, ok := event.Payload.After.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "test1", after["name"])

	exec("UPDATE test_stream SET name = $1 WHERE name = $2", "test2", "test1")
	expect(cdc.OpUpdate, true, true)

	exec("DELETE FROM test_stream WHERE name = $1", "test2")
	expect(cdc.OpDelete, true, false)

	exec("TRUNCATE test_stream")
	select {
	case event := <-received:
		require.Equal(t, cdc.OpTruncate, event.Payload.Op)
		require.Equal(t, "test_stream", event.Payload.Source.Table)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for truncate event")
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(&Config{Publication: "custom_pub"})
	require.Equal(t, "custom_pub", cfg.Publication)
	require.Equal(t, defaultSlot, cfg.Slot)
	require.Equal(t, defaultPlugin, cfg.Plugin)
	require.Equal(t, defaultBufferSize, cfg.BufferSize)
	require.Equal(t, []Op{OpInsert, OpUpdate, OpDelete, OpTruncate}, cfg.Ops)

	cfg = mergeWithDefaults(nil)
	require.Equal(t, defaultPublication, cfg.Publication)
}

func TestValidateConfig(t *testing.T) {
	require.Error(t, validateConfig(nil))
	require.Error(t, validateConfig(&Config{
		Ops:                   []Op{"upsert"},
		StandbyUpdateInterval: time.Second,
	}))
	require.Error(t, validateConfig(&Config{
		StandbyUpdateInterval: 100 * time.Millisecond,
	}))
	require.NoError(t, validateConfig(DefaultConfig()))
}
