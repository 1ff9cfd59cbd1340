package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transaction kinds as coded by the accounting platform.
const (
	TypeAccRec          = "ACCREC"
	TypeAccPay          = "ACCPAY"
	TypeReceive         = "RECEIVE"
	TypeSpend           = "SPEND"
	TypeReceiveTransfer = "RECEIVE-TRANSFER"
	TypeSpendTransfer   = "SPEND-TRANSFER"
)

const (
	StatusDraft      = "DRAFT"
	StatusAuthorised = "AUTHORISED"
	StatusPaid       = "PAID"
	StatusVoided     = "VOIDED"
)

// Transaction is one normalized accounting transaction for a tenant. Rows are
// written by the sync layer (or the CSV import) and only read by the engines.
type Transaction struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        string    `gorm:"index:idx_tenant_tx,unique;index:idx_tenant_fy" json:"tenant_id"`
	TransactionID   string    `gorm:"index:idx_tenant_tx,unique" json:"transaction_id"`
	TransactionDate time.Time `gorm:"column:transaction_date;index" json:"transaction_date"`
	FinancialYear   string    `gorm:"index:idx_tenant_fy" json:"financial_year"`

	Amount float64 `gorm:"index" json:"amount"`
	Type   string  `gorm:"index" json:"type"`
	Status string  `json:"status"`

	Description      string `json:"description"`
	ContactName      string `gorm:"index" json:"contact_name"`
	SupplierName     string `json:"supplier_name"`
	Reference        string `json:"reference"`
	AccountCode      string `gorm:"index" json:"account_code"`
	AccountName      string `json:"account_name"`
	AccountType      string `json:"account_type"`
	TrackingCategory string `json:"tracking_category"`

	IsReconciled  bool           `json:"is_reconciled"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	GSTCreditable *bool          `json:"gst_creditable,omitempty"`
	RawDetail     datatypes.JSON `json:"raw_detail,omitempty"`

	// Enrichment flags from the upstream classifier.
	PrimaryCategory    string  `json:"primary_category"`
	CategoryConfidence float64 `json:"category_confidence"`
	IsRndCandidate     bool    `gorm:"index" json:"is_rnd_candidate"`
	Division7aRisk     bool    `gorm:"column:division7a_risk;index" json:"division7a_risk"`
	FbtImplications    bool    `gorm:"index" json:"fbt_implications"`

	CreatedAt time.Time `json:"created_at"`
}

// Counterparty is the name used to group transactions by the other party.
func (t Transaction) Counterparty() string {
	if t.ContactName != "" {
		return t.ContactName
	}
	return t.SupplierName
}
