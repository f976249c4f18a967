// internal/model/contact.go
package model

type Contact struct {
	ID       int64    `db:"id" json:"id"`
	Email    string   `db:"email" json:"email"`
	Tags     []string `db:"tags" json:"tags"`
	Category string   `db:"category" json:"category"`
}

type ContactFilters struct {
	Tags         []string `json:"tags"`
	Categories   []string `json:"categories"`
	TagMatchType string   `json:"tag_match_type"` // any, all
}
