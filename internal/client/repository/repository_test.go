package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/invoicedesk/internal/client/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Client{}))
	return db
}

func TestDirectoryFindClient(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(context.Background(), db, &domain.Client{
		ID:         7,
		Name:       "Jane Roe",
		Email:      "jane@example.test",
		Company:    "Roe Trading",
		Street:     "Main St 1",
		PostalCode: "12345",
		City:       "Springfield",
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	dir := ProvideDirectory(repo)
	client, err := dir.FindClient(context.Background(), db, 7)
	require.NoError(t, err)
	assert.Equal(t, "Roe Trading", client.DisplayName())
	assert.Equal(t, []string{"Main St 1", "12345 Springfield"}, client.AddressLines())

	_, err = dir.FindClient(context.Background(), db, 8)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
