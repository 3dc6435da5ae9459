package capability

// Service names as exposed by the brokerage client.
const (
	ServiceAPIStatus          = "apiStatus"
	ServiceAuthentication     = "authentication"
	ServiceAccountInformation = "accountInformation"
	ServiceTransactions       = "transactions"
	ServicePortfolioHoldings  = "portfolioHoldings"
)

// Candidate lists collect every surface name seen across SDK builds, in preference order.
var (
	CheckStatus = Capability{
		Name:       "checkStatus",
		Services:   []string{ServiceAPIStatus},
		Operations: Candidates{"check", "checkStatus", "getStatus", "status"},
	}

	RegisterUser = Capability{
		Name:       "registerUser",
		Services:   []string{ServiceAuthentication},
		Operations: Candidates{"registerSnapTradeUser", "registerUser", "register"},
	}

	LoginUser = Capability{
		Name:       "loginUser",
		Services:   []string{ServiceAuthentication},
		Operations: Candidates{"loginSnapTradeUser", "loginUser", "login"},
	}

	ListAccounts = Capability{
		Name:       "listAccounts",
		Services:   []string{ServiceAccountInformation},
		Operations: Candidates{"listUserAccounts", "listAccounts", "getUserAccounts", "getAccounts", "list"},
	}

	// ListHoldings is scoped to one account.
	ListHoldings = Capability{
		Name:     "listHoldings",
		Services: []string{ServiceAccountInformation, ServicePortfolioHoldings},
		Operations: Candidates{
			"getUserHoldings", "holdingsGet", "getHoldings", "getAccountHoldings",
			"getUserAccountPositions", "listPositions",
		},
	}

	// ListAllHoldings spans every account of the user.
	ListAllHoldings = Capability{
		Name:       "listAllHoldings",
		Services:   []string{ServiceAccountInformation, ServicePortfolioHoldings},
		Operations: Candidates{"getAllUserHoldings", "holdingsGet", "getHoldings", "listHoldings"},
	}

	ListActivities = Capability{
		Name:     "listActivities",
		Services: []string{ServiceTransactions, ServiceAccountInformation},
		Operations: Candidates{
			"listUserAccountTransactions", "listAccountTransactions",
			"getUserAccountTransactions", "getAccountTransactions",
			"listUserAccountActivities", "listActivitiesForAccount",
			"listActivities", "getActivities", "getAccountActivities",
		},
	}

	ListTransactions = Capability{
		Name:     "listTransactions",
		Services: []string{ServiceTransactions, ServiceAccountInformation},
		Operations: Candidates{
			"listUserAccountTransactions", "listAccountTransactions",
			"getUserAccountTransactions", "getAccountTransactions", "getTransactions",
		},
	}
)
