package invoice

import (
	"time"

	"gorm.io/datatypes"
)

// InvoiceState is the persisted form of an approval record: the full record
// serialized as one JSON blob, keyed by invoice number.
type InvoiceState struct {
	InvoiceNumber string         `gorm:"column:invoice_number;primaryKey"`
	StateJSON     datatypes.JSON `gorm:"column:state_json"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (InvoiceState) TableName() string {
	return "invoice_states"
}

// ThreadMap is the deterministic chat thread -> invoice number index.
type ThreadMap struct {
	ThreadRef     string    `gorm:"column:thread_ref;primaryKey"`
	InvoiceNumber string    `gorm:"column:invoice_number;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (ThreadMap) TableName() string {
	return "thread_map"
}
