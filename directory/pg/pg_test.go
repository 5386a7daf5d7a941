package pg

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
)

func TestProfileRoundTripByRole(t *testing.T) {
	cases := []goIdentity.RoleProfile{
		goIdentity.ClientProfile{Phone: "+1", Company: "Acme"},
		goIdentity.EmployeeProfile{EmployeeNumber: "E7", Department: "ops"},
		goIdentity.AdminProfile{Scopes: []string{"users:write"}},
	}
	for _, p := range cases {
		t.Run(p.Role(), func(t *testing.T) {
			raw, err := encodeProfile(p)
			require.NoError(t, err)
			got, err := decodeProfile(p.Role(), raw)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestDecodeProfileDefaultsAndErrors(t *testing.T) {
	raw, err := encodeProfile(nil)
	require.NoError(t, err)
	got, err := decodeProfile(goIdentity.RoleClient, raw)
	require.NoError(t, err)
	assert.Equal(t, goIdentity.ClientProfile{}, got)

	_, err = decodeProfile("guest", []byte("{}"))
	assert.Error(t, err)
	_, err = decodeProfile(goIdentity.RoleAdmin, []byte("{"))
	assert.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/id?sslmode=disable", migrateURL("postgres://u:p@db:5432/id?sslmode=disable"))
	assert.Equal(t, "pgx5://db/id", migrateURL("postgresql://db/id"))
	assert.Equal(t, "pgx5://db/id", migrateURL("pgx5://db/id"))
}

func TestMigrationsAreEmbeddedInPairs(t *testing.T) {
	up, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, up)
	assert.Len(t, down, len(up))
}
