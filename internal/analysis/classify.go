package analysis

import (
	"strings"

	"ato-tax-optimizer-backend/internal/models"
)

// IsBankType reports whether a transaction is a bank-side movement.
func IsBankType(t string) bool {
	switch strings.ToUpper(t) {
	case models.TypeReceive, models.TypeSpend, models.TypeReceiveTransfer, models.TypeSpendTransfer,
		"RECEIVE-OVERPAYMENT", "RECEIVE-PREPAYMENT", "SPEND-OVERPAYMENT", "SPEND-PREPAYMENT", "BANK":
		return true
	}
	return false
}

// IsInvoiceType reports whether a transaction is a receivable or payable invoice.
func IsInvoiceType(t string) bool {
	switch strings.ToUpper(t) {
	case models.TypeAccRec, models.TypeAccPay:
		return true
	}
	return false
}

// IsMoneyIn reports whether the transaction brings money into the entity.
func IsMoneyIn(t string) bool {
	switch strings.ToUpper(t) {
	case models.TypeAccRec, models.TypeReceive, models.TypeReceiveTransfer, "RECEIVE-OVERPAYMENT", "RECEIVE-PREPAYMENT":
		return true
	}
	return false
}

var incomeAccountTypes = map[string]bool{"REVENUE": true, "SALES": true, "OTHERINCOME": true, "INCOME": true}
var expenseAccountTypes = map[string]bool{"EXPENSE": true, "DIRECTCOSTS": true, "OVERHEADS": true, "DEPRECIATN": true}

// IsIncome classifies a transaction as assessable income. The account type
// decides when present; otherwise direction does.
func IsIncome(tx models.Transaction) bool {
	at := strings.ToUpper(tx.AccountType)
	if at != "" {
		return incomeAccountTypes[at]
	}
	return IsMoneyIn(tx.Type)
}

// IsExpense classifies a transaction as a business expense.
func IsExpense(tx models.Transaction) bool {
	at := strings.ToUpper(tx.AccountType)
	if at != "" {
		return expenseAccountTypes[at]
	}
	return !IsMoneyIn(tx.Type) && tx.Type != ""
}

// Text is the lower-cased searchable text of a transaction.
func Text(tx models.Transaction) string {
	return strings.ToLower(strings.Join([]string{tx.Description, tx.ContactName, tx.SupplierName, tx.AccountName, tx.PrimaryCategory}, " "))
}

// MatchKeywords returns the keywords found in text, in list order.
func MatchKeywords(text string, keywords []string) []string {
	var hits []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

// ContainsAny reports whether any keyword occurs in text.
func ContainsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// NormalizeName upper-cases and strips punctuation for name comparison.
func NormalizeName(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
