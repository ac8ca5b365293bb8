package db_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/db"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "") // restore on cleanup
		require.NoError(t, os.Unsetenv(k))
	}
}

func Test_ParseConfig_AppliesDefaults(t *testing.T) {
	// setup
	unsetEnv(t, db.EnvDBPassword, db.EnvJWTSecret)
	src := `
mode: release
database:
  driver: memory
auth:
  jwt_secret: s3cret
`

	// act
	cfg, err := db.ParseConfig([]byte(src))

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":8443", cfg.Server.Addr)
	assert.Equal(t, 14, cfg.Policy.LoanPeriodDays)
	assert.Equal(t, 14*24*time.Hour, cfg.Policy.LoanPeriod())
	assert.True(t, cfg.Policy.Rate().Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.FineInterval)
	assert.Equal(t, 80, cfg.DB.MaxOpenConns)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.ExportInterval)
	assert.Equal(t, "libris-backend", cfg.Telemetry.ServiceName)
}

func Test_ParseConfig_Telemetry(t *testing.T) {
	unsetEnv(t, db.EnvDBPassword, db.EnvJWTSecret)
	src := `
database:
  driver: memory
auth:
  jwt_secret: s3cret
telemetry:
  enabled: true
  otlp_endpoint: otel-collector:4317
  insecure: true
  export_interval: 5s
`

	cfg, err := db.ParseConfig([]byte(src))

	require.NoError(t, err)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.ExportInterval)

	tooFast := strings.Replace(src, "export_interval: 5s", "export_interval: 10ms", 1)
	_, err = db.ParseConfig([]byte(tooFast))
	assert.ErrorContains(t, err, "telemetry.export_interval")
}

func Test_ParseConfig_ReadsAllSections(t *testing.T) {
	unsetEnv(t, db.EnvDBPassword, db.EnvJWTSecret)
	src := `
version: "1"
mode: dev
server:
  addr: ":9000"
  shutdown_timeout: 3s
database:
  driver: pgx
  host: localhost
  user: libris
  password: pw
  dbname: libris
auth:
  jwt_secret: abc
policy:
  loan_period_days: 7
  daily_rate: "0.50"
scheduler:
  enabled: true
  fine_interval: 1h
  run_on_start: true
`
	cfg, err := db.ParseConfig([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "postgres", cfg.DB.Dialect())
	assert.Equal(t, 7*24*time.Hour, cfg.Policy.LoanPeriod())
	assert.Equal(t, "0.5", cfg.Policy.Rate().String())
	assert.True(t, cfg.Scheduler.Enabled)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.Equal(t, time.Hour, cfg.Scheduler.FineInterval)
}

func Test_ParseConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv(db.EnvDBPassword, "from-env")
	t.Setenv(db.EnvJWTSecret, "jwt-from-env")
	src := `
database:
  driver: mysql
  host: db
  dbname: libris
  password: from-file
`
	cfg, err := db.ParseConfig([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.DB.Password)
	assert.Equal(t, "jwt-from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 3306, cfg.DB.Port)
	assert.Equal(t, "mysql", cfg.DB.Dialect())
}

func Test_ParseConfig_RejectsInvalidValues(t *testing.T) {
	unsetEnv(t, db.EnvDBPassword, db.EnvJWTSecret)
	cases := map[string]string{
		"bad mode":       "mode: prod\ndatabase: {driver: memory}\nauth: {jwt_secret: x}\n",
		"unknown driver": "database: {driver: sqlite}\nauth: {jwt_secret: x}\n",
		"missing host":   "database: {driver: mysql, dbname: a}\nauth: {jwt_secret: x}\n",
		"missing secret": "database: {driver: memory}\n",
		"bad rate":       "database: {driver: memory}\nauth: {jwt_secret: x}\npolicy: {daily_rate: ten}\n",
		"negative rate":  "database: {driver: memory}\nauth: {jwt_secret: x}\npolicy: {daily_rate: \"-1\"}\n",
		"bad period":     "database: {driver: memory}\nauth: {jwt_secret: x}\npolicy: {loan_period_days: -3}\n",
	}
	for name, src := range cases {
		_, err := db.ParseConfig([]byte(src))
		assert.Error(t, err, name)
	}
}

func Test_LoadConfig_ReadsFile(t *testing.T) {
	unsetEnv(t, db.EnvDBPassword, db.EnvJWTSecret)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: {driver: memory}\nauth: {jwt_secret: x}\n"), 0o600))

	cfg, err := db.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, db.DriverMemory, cfg.DB.Driver)

	_, err = db.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func Test_DatabaseConfig_DSN(t *testing.T) {
	my := db.DatabaseConfig{Driver: db.DriverMySQL, Host: "db", Port: 3306, Username: "u", Password: "p", DBName: "libris"}
	dsn, err := my.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "u:p@tcp(db:3306)/libris?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")

	pg := db.DatabaseConfig{Driver: db.DriverPgx, Host: "db", Port: 5432, Username: "u", Password: "p@ss", DBName: "libris", SSLMode: "disable"}
	dsn, err = pg.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "postgres://u:p%40ss@db:5432/libris?"), dsn)
	assert.Contains(t, dsn, "sslmode=disable")

	_, err = db.DatabaseConfig{Driver: db.DriverMemory}.DSN()
	assert.Error(t, err)
}
