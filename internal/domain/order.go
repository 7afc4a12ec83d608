package domain

import "time"

// Order is the storefront order a payment settles. Only the fields the
// payment flow reads or writes are modelled.
type Order struct {
	ID            string      `json:"id"`
	TotalCents    int64       `json:"totalCents"`
	Currency      string      `json:"currency"`
	Status        OrderStatus `json:"status"`
	InvoiceID     string      `json:"invoiceId,omitempty"`
	InvoiceURL    string      `json:"invoiceUrl,omitempty"`
	InvoiceStatus string      `json:"invoiceStatus,omitempty"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	Archived      bool        `json:"archived"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}
