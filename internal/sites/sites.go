// Package sites holds the tenant model. Every visit belongs to one site.
package sites

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Site is a tenant of a multisite network.
type Site struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"unique;not null" json:"domain"`
	Name      string    `json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// SiteNotFoundError is returned when a site id does not exist.
type SiteNotFoundError struct {
	ID uint
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %d", e.ID)
}

// ListActive returns every active site ordered by id.
func ListActive(db *gorm.DB) ([]Site, error) {
	var out []Site
	if err := db.Where("active = ?", true).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("error listing sites: %w", err)
	}
	return out, nil
}

// Get finds a site by id.
func Get(db *gorm.DB, id uint) (*Site, error) {
	var site Site
	if err := db.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &SiteNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// Create inserts a site, returning the existing one if the domain is taken.
func Create(db *gorm.DB, domain, name string) (*Site, error) {
	var site Site
	err := db.Where("domain = ?", domain).First(&site).Error
	if err == nil {
		return &site, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}

	site = Site{Domain: domain, Name: name, Active: true, CreatedAt: time.Now().UTC()}
	if err := db.Create(&site).Error; err != nil {
		return nil, fmt.Errorf("error creating site: %w", err)
	}
	return &site, nil
}
