package entity

import "github.com/uptrace/bun"

// Customer is the party an invoice is billed to.
type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:customer"`

	ID       string `bun:"id,pk,type:varchar(36)"`
	Name     string `bun:"name,notnull"`
	Email    string `bun:"email,notnull,unique"`
	ImageURL string `bun:"image_url"`
}
