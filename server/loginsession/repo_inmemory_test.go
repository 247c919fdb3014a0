package loginsession_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/server/loginsession"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLoginSessionRepo(t *testing.T) {
	repo := loginsession.NewInMemoryLoginSessionRepo()
	now := time.Now()

	require.ErrorIs(t, repo.Upsert(loginsession.Session{UserID: "u1"}), errors.ErrValidation)

	require.NoError(t, repo.Upsert(loginsession.Session{ID: "s2", UserID: "u1", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.Upsert(loginsession.Session{ID: "s1", UserID: "u1", CreatedAt: now}))
	require.NoError(t, repo.Upsert(loginsession.Session{ID: "s3", UserID: "u2", CreatedAt: now}))

	list, err := repo.ListByUser("u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s1", list[0].ID)
	require.Equal(t, "s2", list[1].ID)

	require.NoError(t, repo.Delete("s1"))
	require.NoError(t, repo.Delete("s1"))
	_, err = repo.Get("s1")
	require.ErrorIs(t, err, errors.ErrNotFound)

	list, err = repo.ListByUser("u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := repo.Get("s3")
	require.NoError(t, err)
	require.Equal(t, "u2", got.UserID)
}
