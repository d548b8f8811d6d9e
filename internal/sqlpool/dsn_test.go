package sqlpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/leasekeeper/pkg/lease"
	"github.com/systmms/leasekeeper/pkg/provider"
)

func TestDriverName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "postgres", false},
		{"postgresql", "postgres", false},
		{"Postgres", "postgres", false},
		{"mysql", "mysql", false},
		{"mariadb", "mysql", false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		got, err := DriverName(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestBuildDSN_Postgres(t *testing.T) {
	t.Parallel()

	creds := provider.Credentials{Username: "v-approle-orders-x1", Password: "A1a-kD9x"}

	tests := []struct {
		name string
		cfg  lease.PoolConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  lease.PoolConfig{KeyHost: "db.internal"},
			want: "host=db.internal port=5432 dbname=postgres user=v-approle-orders-x1 password=A1a-kD9x sslmode=require",
		},
		{
			name: "explicit fields",
			cfg: lease.PoolConfig{
				KeyDriver:         "postgresql",
				KeyHost:           "10.0.0.5",
				KeyPort:           "6432",
				KeyDatabase:       "orders",
				KeySSLMode:        "disable",
				KeyConnectTimeout: "5",
			},
			want: "host=10.0.0.5 port=6432 dbname=orders user=v-approle-orders-x1 password=A1a-kD9x sslmode=disable connect_timeout=5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := BuildDSN(tt.cfg, creds)
			require.NoError(t, err)
			assert.Equal(t, "postgres", driver)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestBuildDSN_PostgresQuotesValues(t *testing.T) {
	t.Parallel()

	creds := provider.Credentials{Username: "app", Password: `p a'ss\w`}
	_, dsn, err := BuildDSN(lease.PoolConfig{KeyHost: "db"}, creds)
	require.NoError(t, err)

	assert.Contains(t, dsn, `password='p a\'ss\\w'`)
}

func TestBuildDSN_PostgresOmitsEmptyPassword(t *testing.T) {
	t.Parallel()

	_, dsn, err := BuildDSN(lease.PoolConfig{KeyHost: "db"}, provider.Credentials{Username: "app"})
	require.NoError(t, err)
	assert.NotContains(t, dsn, "password=")
}

func TestBuildDSN_MySQL(t *testing.T) {
	t.Parallel()

	cfg := lease.PoolConfig{
		KeyDriver:   "mariadb",
		KeyHost:     "mysql.internal",
		KeyDatabase: "orders",
	}
	creds := provider.Credentials{Username: "v-orders", Password: "pw"}

	driver, dsn, err := BuildDSN(cfg, creds)
	require.NoError(t, err)

	assert.Equal(t, "mysql", driver)
	assert.Contains(t, dsn, "v-orders:pw@tcp(mysql.internal:3306)/orders")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestBuildDSN_MySQLTLS(t *testing.T) {
	t.Parallel()

	cfg := lease.PoolConfig{KeyDriver: "mysql", KeyHost: "db", KeyPort: "3307", KeyTLS: "true"}
	_, dsn, err := BuildDSN(cfg, provider.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)

	assert.Contains(t, dsn, "@tcp(db:3307)/")
	assert.Contains(t, dsn, "tls=true")
}

func TestBuildDSN_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := BuildDSN(lease.PoolConfig{KeyDriver: "sqlite", KeyHost: "x"}, provider.Credentials{})
	assert.ErrorContains(t, err, "unsupported database type")

	_, _, err = BuildDSN(lease.PoolConfig{}, provider.Credentials{})
	assert.ErrorContains(t, err, "host is required")
}
