package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
)

func TestDirectoryLookupIsCaseInsensitiveAndTenantScoped(t *testing.T) {
	d := New()
	t1 := goIdentity.WithTenantID(context.Background(), "t1")
	t2 := goIdentity.WithTenantID(context.Background(), "t2")

	require.NoError(t, d.Put(t1, goIdentity.UserRecord{
		UserID:  "u1",
		Email:   "Ana@Example.com",
		Role:    goIdentity.RoleClient,
		Profile: goIdentity.ClientProfile{Phone: "+100"},
	}))

	rec, err := d.FindByEmail(t1, "  ana@example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "ana@example.com", rec.Email)
	assert.Equal(t, goIdentity.ClientProfile{Phone: "+100"}, rec.Profile)

	_, err = d.FindByEmail(t2, "ana@example.com")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
}

func TestDirectoryRejectsDuplicateEmailAndMismatchedProfile(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, goIdentity.UserRecord{UserID: "u1", Email: "a@x.com"}))

	err := d.Put(ctx, goIdentity.UserRecord{UserID: "u2", Email: "A@x.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	err = d.Put(ctx, goIdentity.UserRecord{
		UserID:  "u3",
		Email:   "b@x.com",
		Role:    goIdentity.RoleAdmin,
		Profile: goIdentity.EmployeeProfile{Department: "ops"},
	})
	assert.Error(t, err)
}

func TestDirectoryMutations(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, goIdentity.UserRecord{UserID: "u1", Email: "a@x.com", PasswordHash: "old"}))

	require.NoError(t, d.MarkVerified(ctx, "u1"))
	require.NoError(t, d.UpdatePassword(ctx, "u1", "new"))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, d.RecordLogin(ctx, "u1", at))
	require.NoError(t, d.RecordLogin(ctx, "u1", at.Add(time.Hour)))

	rec, err := d.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.Equal(t, "new", rec.PasswordHash)
	assert.EqualValues(t, 2, rec.LoginCount)
	assert.True(t, rec.LastLogin.Equal(at.Add(time.Hour)))

	assert.ErrorIs(t, d.MarkVerified(ctx, "missing"), goIdentity.ErrUserNotFound)
}

func TestDirectoryPutMovesEmail(t *testing.T) {
	d := New()
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, goIdentity.UserRecord{UserID: "u1", Email: "old@x.com"}))
	require.NoError(t, d.Put(ctx, goIdentity.UserRecord{UserID: "u1", Email: "new@x.com"}))

	_, err := d.FindByEmail(ctx, "old@x.com")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
	rec, err := d.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", rec.Email)
}
