package storage

import "time"

// Visit is one session. Date is stored as YYYY-MM-DD so range scans compare lexically.
type Visit struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID      uint   `gorm:"not null;index:idx_visits_site_date,priority:1" json:"site_id"`
	Date        string `gorm:"type:date;not null;index:idx_visits_site_date,priority:2" json:"date"`
	Hour        int    `gorm:"not null;default:0" json:"hour"`
	VisitorHash string `gorm:"not null;index" json:"visitor_hash"`
	ResourceID  *uint  `gorm:"index" json:"resource_id"`
	PageViews   int    `gorm:"not null;default:1" json:"page_views"`
	Duration    int    `gorm:"not null;default:0" json:"duration"` // seconds
	Bounced     bool   `gorm:"not null;default:false" json:"bounced"`
	Browser     string `gorm:"index" json:"browser"`
	OS          string `gorm:"column:os;index" json:"os"`
	Device      string `gorm:"index" json:"device"`
	Referrer    string `gorm:"index" json:"referrer"`
	Channel     string `json:"channel"`
	UserRole    string `json:"user_role"`
	LoggedIn    bool   `gorm:"not null;default:false" json:"logged_in"`
	CreatedAt   time.Time
}

// VisitorLocation is the geolocation of a visit.
type VisitorLocation struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	VisitID uint   `gorm:"not null;uniqueIndex" json:"visit_id"`
	Country string `gorm:"size:2;index" json:"country"` // ISO 3166-1 alpha-2
	Region  string `json:"region"`
	City    string `gorm:"index" json:"city"`
}

// Resource is a piece of content a visit landed on.
type Resource struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID       uint   `gorm:"not null;index" json:"site_id"`
	ResourceType string `gorm:"not null;index" json:"resource_type"`
	Title        string `json:"title"`
	URI          string `gorm:"column:uri;not null" json:"uri"`
	CreatedAt    time.Time
}

// Models returns every model owned by this package, for migrations.
func Models() []any {
	return []any{&Visit{}, &VisitorLocation{}, &Resource{}}
}
