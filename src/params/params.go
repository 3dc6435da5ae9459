// Package params builds upstream argument objects that carry every historical spelling
// of each logical parameter at once, so whichever operation was resolved finds its keys.
package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/username/brokerbridge/backend/src/capability"
	"github.com/username/brokerbridge/backend/src/utils"
)

// DefaultLookback is the range used when a caller gives no start bound.
const DefaultLookback = 90 * 24 * time.Hour

// Fields are the logical inputs of a data request, as received from the caller.
type Fields struct {
	UserID     string
	UserSecret string
	AccountID  string
	Start      string // ISO-8601, date-only or ms epoch; empty means default window
	End        string
	Cursor     string
}

// Range is a resolved date window.
type Range struct {
	Start time.Time
	End   time.Time
}

// Key spellings per logical field.
var (
	userIDKeys     = []string{"userId", "user_id"}
	userSecretKeys = []string{"userSecret", "user_secret"}
	accountIDKeys  = []string{"accountId", "accountID", "account_id"}
	accountsKeys   = []string{"accounts", "accountIds"}
	startKeys      = []string{"startTime", "startDate", "start_date", "start"}
	endKeys        = []string{"endTime", "endDate", "end_date", "end"}
	startDayKeys   = []string{"startDay", "start_day"}
	endDayKeys     = []string{"endDay", "end_day"}
	cursorKeys     = []string{"cursor", "page_token"}
)

// ResolveRange turns the optional bounds into a concrete window. Missing or unparsable
// bounds fall back to [now-lookback, now]; the start default is measured from the end bound.
func ResolveRange(start, end string, now time.Time, lookback time.Duration) Range {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	e, ok := utils.ParseTimestamp(end)
	if !ok {
		e = now.UTC()
	}
	s, ok := utils.ParseTimestamp(start)
	if !ok {
		s = e.Add(-lookback)
	}
	return Range{Start: s, End: e}
}

// BuildArgs returns the superset argument object for f. Identity keys are always present;
// account and cursor keys only when the caller supplied them. Range bounds are always sent
// both as full timestamps and as calendar days.
func BuildArgs(f Fields, now time.Time, lookback time.Duration) capability.Args {
	args := capability.Args{}
	set(args, userIDKeys, f.UserID)
	set(args, userSecretKeys, f.UserSecret)

	if id := strings.TrimSpace(f.AccountID); id != "" {
		set(args, accountIDKeys, id)
		for _, k := range accountsKeys {
			args[k] = []string{id}
		}
	}

	r := ResolveRange(f.Start, f.End, now, lookback)
	set(args, startKeys, utils.FormatISO(r.Start))
	set(args, endKeys, utils.FormatISO(r.End))
	set(args, startDayKeys, utils.FormatDay(r.Start))
	set(args, endDayKeys, utils.FormatDay(r.End))

	if c := strings.TrimSpace(f.Cursor); c != "" {
		set(args, cursorKeys, c)
		if n, err := strconv.Atoi(c); err == nil && n >= 0 {
			args["offset"] = n
		}
	}
	return args
}

// IdentityArgs is BuildArgs without a date window, for account listing and login.
func IdentityArgs(userID, userSecret string) capability.Args {
	args := capability.Args{}
	set(args, userIDKeys, userID)
	set(args, userSecretKeys, userSecret)
	return args
}

// Lookup returns the first non-empty string under any of keys.
func Lookup(args capability.Args, keys ...string) string {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func set(args capability.Args, keys []string, value string) {
	for _, k := range keys {
		args[k] = value
	}
}
