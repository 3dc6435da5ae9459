package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type baseAPI struct{ label string }

func (b *baseAPI) Ping(ctx context.Context) (string, error) { return "pong:" + b.label, nil }

type holdingsV2 struct {
	baseAPI
	owner string
	calls int

	// Func-typed fields are "own" operations; a nil field is not callable.
	ListPositions func(ctx context.Context, args Args) (any, error)
	Disabled      func(ctx context.Context, args Args) (any, error)
}

func (h *holdingsV2) GetHoldings(ctx context.Context, args Args) (any, error) {
	h.calls++
	return map[string]any{"owner": h.owner, "userId": args["userId"]}, nil
}

// HoldingsGet has a signature the calling convention cannot adapt.
func (h *holdingsV2) HoldingsGet(n int) string { return "" }

func (h *holdingsV2) Check() (bool, error) { return true, nil }

type dynamicClient struct {
	ops map[string]Operation
}

func (d *dynamicClient) Operations() []string {
	names := make([]string, 0, len(d.ops))
	for n := range d.ops {
		names = append(names, n)
	}
	return names
}

func (d *dynamicClient) Lookup(name string) (Operation, bool) {
	op, ok := d.ops[name]
	return op, ok
}

func TestResolvePicksFirstCallableCandidate(t *testing.T) {
	client := &holdingsV2{owner: "acct-1"}

	h, err := Resolve(client, Candidates{"holdingsGet", "getHoldings"})
	require.NoError(t, err)
	require.Equal(t, "GetHoldings", h.Name)
	require.Equal(t, "getHoldings", h.Candidate)
}

func TestResolveRespectsCandidateOrder(t *testing.T) {
	client := &holdingsV2{
		ListPositions: func(ctx context.Context, args Args) (any, error) { return "fields", nil },
	}

	h, err := Resolve(client, Candidates{"listPositions", "getHoldings"})
	require.NoError(t, err)
	require.Equal(t, "ListPositions", h.Name)

	h, err = Resolve(client, Candidates{"getHoldings", "listPositions"})
	require.NoError(t, err)
	require.Equal(t, "GetHoldings", h.Name)
}

func TestHandleIsBoundToReceiver(t *testing.T) {
	client := &holdingsV2{owner: "acct-42"}

	h, err := Resolve(client, Candidates{"getHoldings"})
	require.NoError(t, err)

	out, err := h.Call(context.Background(), Args{"userId": "u1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"owner": "acct-42", "userId": "u1"}, out)
	require.Equal(t, 1, client.calls)
}

func TestResolveFindsPromotedMethods(t *testing.T) {
	client := &holdingsV2{baseAPI: baseAPI{label: "embedded"}}

	h, err := Resolve(client, Candidates{"ping"})
	require.NoError(t, err)
	out, err := h.Call(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "pong:embedded", out)
}

func TestResolveAdaptsNoArgOperation(t *testing.T) {
	h, err := Resolve(&holdingsV2{}, Candidates{"check"})
	require.NoError(t, err)
	out, err := h.Call(context.Background(), Args{"ignored": true})
	require.NoError(t, err)
	require.Equal(t, true, out)
}

func TestResolutionFailureListsEverythingCallable(t *testing.T) {
	client := &holdingsV2{
		ListPositions: func(ctx context.Context, args Args) (any, error) { return nil, nil },
	}

	_, err := Resolve(client, Candidates{"listHoldings", "positionsGet"})
	require.Error(t, err)

	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	require.Equal(t, []string{"listHoldings", "positionsGet"}, re.Candidates)
	// own field, own methods, promoted method; the nil field is absent
	require.Equal(t, []string{"Check", "GetHoldings", "HoldingsGet", "ListPositions", "Ping"}, re.Available)
	require.NotContains(t, re.Available, "Disabled")
}

func TestResolveDynamicDispatcher(t *testing.T) {
	client := &dynamicClient{ops: map[string]Operation{
		"holdingsGet": func(ctx context.Context, args Args) (any, error) { return []any{}, nil },
	}}

	h, err := Resolve(client, Candidates{"getHoldings", "holdingsGet"})
	require.NoError(t, err)
	require.Equal(t, "holdingsGet", h.Name)

	_, err = Resolve(client, Candidates{"nothing"})
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	require.Equal(t, []string{"holdingsGet"}, re.Available)
}

type activitiesAPI struct{}

func (a *activitiesAPI) GetActivities(ctx context.Context, args Args) (any, error) {
	return "transactions-service", nil
}

type accountsAPI struct{}

func (a *accountsAPI) GetAccountActivities(ctx context.Context, args Args) (any, error) {
	return "account-service", nil
}

func (a *accountsAPI) ListUserAccounts(ctx context.Context, args Args) (any, error) {
	return nil, nil
}

func TestResolveInFollowsServicePreference(t *testing.T) {
	targets := []Target{
		{Name: ServiceAccountInformation, Value: &accountsAPI{}},
		{Name: ServiceTransactions, Value: &activitiesAPI{}},
	}

	h, err := ResolveIn(targets, ListActivities)
	require.NoError(t, err)
	require.Equal(t, ServiceTransactions, h.Service)
	require.Equal(t, "transactions.GetActivities", h.QualifiedName())

	// Without the transactions service the account-level operation wins.
	var missing *activitiesAPI
	targets[1].Value = missing
	h, err = ResolveIn(targets, ListActivities)
	require.NoError(t, err)
	require.Equal(t, "accountInformation.GetAccountActivities", h.QualifiedName())
}

func TestResolveInQualifiesDiagnostics(t *testing.T) {
	targets := []Target{
		{Name: ServiceAccountInformation, Value: &accountsAPI{}},
		{Name: ServiceTransactions, Value: &activitiesAPI{}},
	}

	_, err := ResolveIn(targets, CheckStatus)
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "checkStatus", re.Capability)
	require.Equal(t, []string{
		"accountInformation.GetAccountActivities",
		"accountInformation.ListUserAccounts",
		"transactions.GetActivities",
	}, re.Available)
	require.Contains(t, re.Error(), "checkStatus")
}

func TestResolverMemoizesAndRebinds(t *testing.T) {
	r := NewResolver(time.Minute)
	first := &holdingsV2{owner: "first"}
	second := &holdingsV2{owner: "second"}

	_, err := r.Resolve([]Target{{Name: ServiceAccountInformation, Value: &accountsAPI{}}}, ListAccounts)
	require.NoError(t, err)
	require.Equal(t, 1, r.memo.ItemCount())

	// Types with func fields are resolved fresh every time and bound to the live value.
	h, err := r.Resolve([]Target{{Value: first}}, Capability{Name: "h", Operations: Candidates{"getHoldings"}})
	require.NoError(t, err)
	out, _ := h.Call(context.Background(), nil)
	require.Equal(t, "first", out.(map[string]any)["owner"])

	h, err = r.Resolve([]Target{{Value: second}}, Capability{Name: "h", Operations: Candidates{"getHoldings"}})
	require.NoError(t, err)
	out, _ = h.Call(context.Background(), nil)
	require.Equal(t, "second", out.(map[string]any)["owner"])
	require.Equal(t, 1, r.memo.ItemCount())
}

func TestResolverMemoHitBindsNewInstance(t *testing.T) {
	r := NewResolver(time.Minute)
	c := Capability{Name: "activities", Operations: Candidates{"getActivities"}}

	h1, err := r.Resolve([]Target{{Name: ServiceTransactions, Value: &activitiesAPI{}}}, c)
	require.NoError(t, err)
	h2, err := r.Resolve([]Target{{Name: ServiceTransactions, Value: &activitiesAPI{}}}, c)
	require.NoError(t, err)
	require.Equal(t, h1.QualifiedName(), h2.QualifiedName())

	var absent *activitiesAPI
	_, err = r.Resolve([]Target{{Name: ServiceTransactions, Value: absent}}, c)
	require.Error(t, err)
}
