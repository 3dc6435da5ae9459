// backend/src/models/canonical.go
package models

// RecordKind selects the alias-table variant used to build a CanonicalRecord.
type RecordKind string

const (
	KindAccount  RecordKind = "account"
	KindHolding  RecordKind = "holding"
	KindActivity RecordKind = "activity"
)

// CanonicalRecord is the single fixed-schema representation every upstream account,
// holding and activity variant is coerced into.
// Fields that cannot be resolved keep their zero value (0, "" or null), never absent.
type CanonicalRecord struct {
	ID           *string `json:"id"`
	AccountID    string  `json:"accountId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"` // upper-cased, e.g. "BUY", "SELL", "DIVIDEND"
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ExecutedAt   *string `json:"executedAt"`   // as received from upstream
	ExecutedAtMs *int64  `json:"executedAtMs"` // parsed form of ExecutedAt, null when unparsable
	Fees         float64 `json:"fees"`
	Raw          any     `json:"raw"` // untouched upstream object
}

// UsedOperation reports which upstream operation served a data request.
type UsedOperation struct {
	Service   string `json:"service,omitempty"`
	Operation string `json:"operation"`
}

// RecordPage is the result of a data route.
type RecordPage struct {
	Items      []CanonicalRecord `json:"items"`
	NextCursor *string           `json:"nextCursor"`
	Used       UsedOperation     `json:"used"`
}
