package persistence

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxManager_RunInTx(t *testing.T) {
	tests := []struct {
		name    string
		fnErr   error
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr bool
	}{
		{
			name: "commit on success",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE tickets`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
		},
		{
			name:  "rollback on error",
			fnErr: errors.New("boom"),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE tickets`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setup(mock)

			tm := NewTxManager(mock)
			err = tm.RunInTx(context.Background(), func(ctx context.Context) error {
				q := QuerierFromCtx(ctx, mock)
				if _, err := q.Exec(ctx, "UPDATE tickets SET version = version + 1"); err != nil {
					return err
				}
				return tt.fnErr
			})

			if tt.wantErr {
				assert.ErrorIs(t, err, tt.fnErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTxManager_NestedJoinsOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tm := NewTxManager(mock)
	calls := 0
	err = tm.RunInTx(context.Background(), func(ctx context.Context) error {
		return tm.RunInTx(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(MigrationsFS(), ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	content, err := fs.ReadFile(MigrationsFS(), entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(content), "-- +goose Up")
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS tickets")
}
