package normalizer

import "github.com/username/brokerbridge/backend/src/models"

// aliasTable lists, per canonical field, every upstream spelling in priority order.
// Dotted entries address nested objects. The canonical name itself is always present
// so that canonical records map onto themselves.
type aliasTable struct {
	id         []string
	accountID  []string
	symbol     []string
	side       []string
	quantity   []string
	price      []string
	amount     []string
	currency   []string
	executedAt []string
	fees       []string
}

var activityAliases = aliasTable{
	id:        []string{"id", "transactionId", "activityId", "externalId", "external_id", "uuid"},
	accountID: []string{"accountId", "account_id", "accountID", "account.id"},
	symbol: []string{
		"symbol", "ticker", "universal_symbol.symbol", "security.symbol",
		"instrument.symbol", "security_symbol", "option_symbol.ticker",
	},
	side:     []string{"side", "action", "type", "transactionType"},
	quantity: []string{"quantity", "units", "shares", "amountUnits", "fractional_units"},
	price:    []string{"price", "unitPrice", "unit_price"},
	amount:   []string{"amount", "netAmount", "net_amount", "grossAmount"},
	currency: []string{"currency", "currencyCode", "currency_code", "price.currency", "amount.currency"},
	executedAt: []string{
		"executedAt", "tradeDate", "transactionDate", "timestamp", "date",
		"trade_date", "transaction_date", "settlement_date",
	},
	fees: []string{"fees", "fee", "totalFees", "commission"},
}

var holdingAliases = aliasTable{
	id:        []string{"id", "positionId", "position_id", "symbol.id"},
	accountID: []string{"accountId", "account_id", "accountID", "account.id"},
	symbol:    []string{"symbol", "ticker", "instrument.symbol", "security.symbol"},
	side:      []string{"side"},
	quantity:  []string{"quantity", "units", "shares", "fractional_units"},
	price:     []string{"price", "lastPrice", "last_price", "unitPrice"},
	amount:    []string{"amount", "marketValue", "market_value", "value"},
	currency: []string{
		"currency", "currencyCode", "currency_code", "price.currency",
		"symbol.currency", "symbol.symbol.currency",
	},
	executedAt: []string{"executedAt", "updatedAt", "updated_at"},
	fees:       []string{"fees"},
}

// Accounts carry their own id as accountId.
var accountAliases = aliasTable{
	id:         []string{"id", "accountId", "account_id", "number"},
	accountID:  []string{"accountId", "account_id", "id"},
	symbol:     []string{"symbol"},
	side:       []string{"side"},
	quantity:   []string{"quantity"},
	price:      []string{"price"},
	amount:     []string{"amount", "balance.total.amount", "balance.total", "total_value", "totalValue", "cash"},
	currency:   []string{"currency", "balance.total.currency", "currencyCode", "currency_code"},
	executedAt: []string{"executedAt", "created_date", "createdAt"},
	fees:       []string{"fees"},
}

func tableFor(kind models.RecordKind) aliasTable {
	switch kind {
	case models.KindAccount:
		return accountAliases
	case models.KindHolding:
		return holdingAliases
	default:
		return activityAliases
	}
}

// wrapperKeys are tried in order when a response is an object; the first array wins.
var wrapperKeys = []string{"data", "results", "activities", "transactions", "holdings", "accounts", "positions"}
