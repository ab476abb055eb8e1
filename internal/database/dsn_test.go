package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "svc",
		Password: "secret",
		Name:     "pathlight",
		Host:     "db.internal",
		Port:     5433,
	})
	require.NoError(t, err)
	require.Equal(t, "host=db.internal port=5433 user=svc dbname=pathlight password=secret sslmode=disable", dsn)

	_, err = buildPostgresDSN(Config{Host: "db.internal"})
	require.Error(t, err, "user and database name are mandatory")

	dsn, err = buildPostgresDSN(Config{DSN: "postgres://explicit"})
	require.NoError(t, err)
	require.Equal(t, "postgres://explicit", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "svc",
		Name: "pathlight",
	})
	require.NoError(t, err)
	require.Equal(t, "svc@tcp(127.0.0.1:3306)/pathlight?charset=utf8mb4&loc=Local&parseTime=True", dsn)

	dsn, err = buildMySQLDSN(Config{
		User:     "svc",
		Password: "secret",
		Name:     "pathlight",
		Host:     "db.internal",
		Port:     3307,
		Options:  map[string]string{"tls": "preferred"},
	})
	require.NoError(t, err)
	require.Equal(t, "svc:secret@tcp(db.internal:3307)/pathlight?charset=utf8mb4&loc=Local&parseTime=True&tls=preferred", dsn)
}

func TestOpenSQLiteInMemoryAndMigrate(t *testing.T) {
	db, err := OpenAndMigrate(Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.True(t, db.Migrator().HasTable("relationships"))
	require.True(t, db.Migrator().HasTable("audit_entries"))
	require.True(t, db.Migrator().HasTable("principals"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}
