package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, client *domain.Client) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO clients (id, name, email, company, street, postal_code, city, country, number_cursor, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.Name,
		client.Email,
		client.Company,
		client.Street,
		client.PostalCode,
		client.City,
		client.Country,
		client.NumberCursor,
		client.CreatedAt,
		client.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, company, street, postal_code, city, country, number_cursor, created_at, updated_at
		 FROM clients WHERE id = ?`,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

type directory struct {
	repo domain.Repository
}

func ProvideDirectory(repo domain.Repository) domain.Directory {
	return &directory{repo: repo}
}

// FindClient resolves a client or returns domain.ErrNotFound.
func (d *directory) FindClient(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	client, err := d.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.ErrNotFound
	}
	return client, nil
}
