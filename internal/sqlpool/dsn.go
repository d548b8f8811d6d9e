package sqlpool

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/systmms/leasekeeper/pkg/lease"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// Pool configuration keys.
const (
	KeyDriver          = "driver"
	KeyHost            = "host"
	KeyPort            = "port"
	KeyDatabase        = "database"
	KeySSLMode         = "sslmode"
	KeyTLS             = "tls"
	KeyConnectTimeout  = "connect_timeout"
	KeyMaxOpenConns    = "max_open_conns"
	KeyMaxIdleConns    = "max_idle_conns"
	KeyConnMaxLifetime = "conn_max_lifetime"
	KeyConnMaxIdleTime = "conn_max_idle_time"
)

var driverMap = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// DriverName maps a configured database type to a registered database/sql
// driver name.
func DriverName(dbType string) (string, error) {
	if dbType == "" {
		return "postgres", nil
	}
	driver, ok := driverMap[strings.ToLower(dbType)]
	if !ok {
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
	return driver, nil
}

// BuildDSN returns the driver name and connection string for cfg with creds
// filled in.
func BuildDSN(cfg lease.PoolConfig, creds provider.Credentials) (string, string, error) {
	driver, err := DriverName(cfg[KeyDriver])
	if err != nil {
		return "", "", err
	}
	if cfg[KeyHost] == "" {
		return "", "", fmt.Errorf("%s is required", KeyHost)
	}

	switch driver {
	case "postgres":
		return driver, buildPostgresDSN(cfg, creds), nil
	case "mysql":
		return driver, buildMySQLDSN(cfg, creds), nil
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

// buildPostgresDSN builds a lib/pq key=value connection string.
func buildPostgresDSN(cfg lease.PoolConfig, creds provider.Credentials) string {
	port := cfg[KeyPort]
	if port == "" {
		port = "5432"
	}
	database := cfg[KeyDatabase]
	if database == "" {
		database = "postgres"
	}

	parts := []string{
		"host=" + quotePQ(cfg[KeyHost]),
		"port=" + quotePQ(port),
		"dbname=" + quotePQ(database),
		"user=" + quotePQ(creds.Username),
	}

	if creds.Password != "" {
		parts = append(parts, "password="+quotePQ(creds.Password))
	}

	if sslmode, ok := cfg[KeySSLMode]; ok && sslmode != "" {
		parts = append(parts, "sslmode="+quotePQ(sslmode))
	} else {
		parts = append(parts, "sslmode=require")
	}

	if timeout := cfg[KeyConnectTimeout]; timeout != "" {
		parts = append(parts, "connect_timeout="+quotePQ(timeout))
	}

	return strings.Join(parts, " ")
}

// quotePQ quotes a value for the lib/pq key=value format when needed.
func quotePQ(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\\t") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// buildMySQLDSN builds a go-sql-driver/mysql DSN.
func buildMySQLDSN(cfg lease.PoolConfig, creds provider.Credentials) string {
	port := cfg[KeyPort]
	if port == "" {
		port = "3306"
	}

	mc := mysql.NewConfig()
	mc.User = creds.Username
	mc.Passwd = creds.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg[KeyHost], port)
	mc.DBName = cfg[KeyDatabase]
	mc.ParseTime = true
	if tls := cfg[KeyTLS]; tls != "" {
		mc.TLSConfig = tls
	}

	return mc.FormatDSN()
}
