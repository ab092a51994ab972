package dto

// CreateInvoiceForm is the create-invoice form submission schema.
type CreateInvoiceForm struct {
	CustomerID string `form:"customerId" validate:"required,max=255"`
	Amount     string `form:"amount" validate:"required,amount"`
	Status     string `form:"status" validate:"required,oneof=pending paid"`
}

// InvoiceResponse represents an invoice as exposed via transport layers.
type InvoiceResponse struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Status        string `json:"status"`
	Date          string `json:"date"`
}

// InvoicePage is one page of the invoices listing view.
type InvoicePage struct {
	Invoices   []InvoiceResponse `json:"invoices"`
	Query      string            `json:"query,omitempty"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	Total      int               `json:"total"`
}

// CustomerOption is a customer choice on the create-invoice form.
type CustomerOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
