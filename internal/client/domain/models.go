package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Client is the read model of the billed party.
type Client struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Name         string       `gorm:"type:varchar(255);not null" json:"name"`
	Email        string       `gorm:"type:varchar(255)" json:"email"`
	Company      string       `gorm:"type:varchar(255)" json:"company,omitempty"`
	Street       string       `gorm:"type:varchar(255)" json:"street,omitempty"`
	PostalCode   string       `gorm:"type:varchar(32)" json:"postal_code,omitempty"`
	City         string       `gorm:"type:varchar(128)" json:"city,omitempty"`
	Country      string       `gorm:"type:varchar(128)" json:"country,omitempty"`
	NumberCursor int64        `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// AddressLines returns the postal address as printable lines, skipping blanks.
func (c Client) AddressLines() []string {
	lines := make([]string, 0, 3)
	if street := strings.TrimSpace(c.Street); street != "" {
		lines = append(lines, street)
	}
	cityLine := strings.TrimSpace(strings.TrimSpace(c.PostalCode) + " " + strings.TrimSpace(c.City))
	if cityLine != "" {
		lines = append(lines, cityLine)
	}
	if country := strings.TrimSpace(c.Country); country != "" {
		lines = append(lines, country)
	}
	return lines
}

// DisplayName prefers the company for business recipients.
func (c Client) DisplayName() string {
	if company := strings.TrimSpace(c.Company); company != "" {
		return company
	}
	return strings.TrimSpace(c.Name)
}
