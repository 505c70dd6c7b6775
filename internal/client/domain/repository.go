package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("client_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, client *Client) error
	// FindByID returns nil without error when the client does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
}

// Directory is the lookup the invoice engine consumes.
type Directory interface {
	FindClient(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
}
