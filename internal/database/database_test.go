package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

func TestConnectRedis(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+srv.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "feedback:1", "cached", 0).Err())
	require.True(t, srv.Exists("feedback:1"))

	_, err = ConnectRedis(context.Background(), "")
	require.Error(t, err)

	_, err = ConnectRedis(context.Background(), "http://"+srv.Addr())
	require.ErrorContains(t, err, "parse redis url")

	srv.Close()
	_, err = ConnectRedis(context.Background(), "redis://"+srv.Addr()+"/0")
	require.ErrorContains(t, err, "unable to connect")
}

func TestConnectersRejectEmptyURLs(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "", PoolConfig{})
	require.Error(t, err)

	_, err = ConnectNATS("", "grader")
	require.Error(t, err)
}

func TestMigrateCreatesAutograderTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, model := range []interface{}{
		&models.Course{},
		&models.Project{},
		&models.AGTestCommand{},
		&models.GroupInvitation{},
		&models.Submission{},
		&models.AGTestCommandResult{},
	} {
		require.True(t, db.Migrator().HasTable(model))
	}
}
