package snaptrade

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/username/brokerbridge/backend/src/capability"
	"github.com/username/brokerbridge/backend/src/errs"
	"github.com/username/brokerbridge/backend/src/params"
)

// APIStatusAPI reports service health.
type APIStatusAPI struct{ c *Client }

// Check calls GET /snapTrade/status.
func (a *APIStatusAPI) Check(ctx context.Context) (any, error) {
	return a.c.do(ctx, http.MethodGet, "/snapTrade/status", nil, nil)
}

// AuthenticationAPI manages aggregator users and connection portal logins.
type AuthenticationAPI struct{ c *Client }

// RegisterSnapTradeUser calls POST /snapTrade/registerUser.
func (a *AuthenticationAPI) RegisterSnapTradeUser(ctx context.Context, args capability.Args) (any, error) {
	userID := params.Lookup(args, "userId", "user_id")
	if userID == "" {
		return nil, missing("snaptrade.registerUser", "userId")
	}
	return a.c.do(ctx, http.MethodPost, "/snapTrade/registerUser", nil, map[string]any{"userId": userID})
}

// loginOptions are forwarded to the login body when the caller supplies them.
var loginOptions = []string{
	"broker", "immediateRedirect", "customRedirect", "reconnect",
	"connectionType", "connectionPortalVersion",
}

// LoginSnapTradeUser calls POST /snapTrade/login and returns the redirect URI payload.
func (a *AuthenticationAPI) LoginSnapTradeUser(ctx context.Context, args capability.Args) (any, error) {
	q, err := identity("snaptrade.login", args)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	for _, k := range loginOptions {
		if v, ok := args[k]; ok && v != nil && v != "" {
			body[k] = v
		}
	}
	return a.c.do(ctx, http.MethodPost, "/snapTrade/login", q, body)
}

// AccountInformationAPI reads accounts, balances, holdings and account activities.
type AccountInformationAPI struct{ c *Client }

// ListUserAccounts calls GET /accounts.
func (a *AccountInformationAPI) ListUserAccounts(ctx context.Context, args capability.Args) (any, error) {
	q, err := identity("snaptrade.listAccounts", args)
	if err != nil {
		return nil, err
	}
	return a.c.do(ctx, http.MethodGet, "/accounts", q, nil)
}

// GetUserHoldings calls GET /accounts/{accountId}/holdings.
func (a *AccountInformationAPI) GetUserHoldings(ctx context.Context, args capability.Args) (any, error) {
	return a.accountScoped(ctx, "snaptrade.holdings", "holdings", args, nil)
}

// GetUserAccountPositions calls GET /accounts/{accountId}/positions.
func (a *AccountInformationAPI) GetUserAccountPositions(ctx context.Context, args capability.Args) (any, error) {
	return a.accountScoped(ctx, "snaptrade.positions", "positions", args, nil)
}

// GetAllUserHoldings calls GET /holdings, optionally filtered by account.
func (a *AccountInformationAPI) GetAllUserHoldings(ctx context.Context, args capability.Args) (any, error) {
	q, err := identity("snaptrade.allHoldings", args)
	if err != nil {
		return nil, err
	}
	if id := params.Lookup(args, "accountId", "account_id"); id != "" {
		q.Set("accounts", id)
	}
	return a.c.do(ctx, http.MethodGet, "/holdings", q, nil)
}

// GetAccountActivities calls GET /accounts/{accountId}/activities.
func (a *AccountInformationAPI) GetAccountActivities(ctx context.Context, args capability.Args) (any, error) {
	return a.accountScoped(ctx, "snaptrade.accountActivities", "activities", args, func(q url.Values) {
		setRange(q, args)
		if offset, ok := args["offset"].(int); ok {
			q.Set("offset", strconv.Itoa(offset))
		}
	})
}

func (a *AccountInformationAPI) accountScoped(ctx context.Context, op, resource string, args capability.Args, extra func(url.Values)) (any, error) {
	q, err := identity(op, args)
	if err != nil {
		return nil, err
	}
	accountID := params.Lookup(args, "accountId", "accountID", "account_id")
	if accountID == "" {
		return nil, missing(op, "accountId")
	}
	if extra != nil {
		extra(q)
	}
	return a.c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/"+resource, q, nil)
}

// TransactionsAPI reads the cross-account activity feed.
type TransactionsAPI struct{ c *Client }

// GetActivities calls GET /activities.
func (t *TransactionsAPI) GetActivities(ctx context.Context, args capability.Args) (any, error) {
	q, err := identity("snaptrade.activities", args)
	if err != nil {
		return nil, err
	}
	setRange(q, args)
	if ids, ok := args["accounts"].([]string); ok && len(ids) > 0 {
		q.Set("accounts", strings.Join(ids, ","))
	} else if id := params.Lookup(args, "accountId", "account_id"); id != "" {
		q.Set("accounts", id)
	}
	if typ := params.Lookup(args, "type"); typ != "" {
		q.Set("type", typ)
	}
	return t.c.do(ctx, http.MethodGet, "/activities", q, nil)
}

func identity(op string, args capability.Args) (url.Values, error) {
	userID := params.Lookup(args, "userId", "user_id")
	userSecret := params.Lookup(args, "userSecret", "user_secret")
	if userID == "" || userSecret == "" {
		return nil, missing(op, "userId and userSecret")
	}
	return url.Values{"userId": {userID}, "userSecret": {userSecret}}, nil
}

// setRange sends calendar-day bounds, the granularity the activity endpoints accept.
func setRange(q url.Values, args capability.Args) {
	if start := params.Lookup(args, "startDay", "start_day", "startDate"); start != "" {
		q.Set("startDate", start)
	}
	if end := params.Lookup(args, "endDay", "end_day", "endDate"); end != "" {
		q.Set("endDate", end)
	}
}

func missing(op, what string) error {
	return errs.New(op, errs.CodeInvalid, errs.WithMessage("Missing "+what))
}
