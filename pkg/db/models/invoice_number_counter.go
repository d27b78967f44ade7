package models

// InvoiceNumberCounter backs gapless per-year invoice numbering. The row is
// locked FOR UPDATE while a sequence value is assigned.
type InvoiceNumberCounter struct {
	Year    int   `gorm:"column:year;primaryKey"`
	LastSeq int64 `gorm:"column:last_seq;not null;default:0"`
}

// TableName overrides gorm's pluralization.
func (InvoiceNumberCounter) TableName() string {
	return "invoice_number_counters"
}
