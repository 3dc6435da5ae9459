package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/username/brokerbridge/backend/src/capability"
	"github.com/username/brokerbridge/backend/src/errs"
	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/metrics"
	"github.com/username/brokerbridge/backend/src/models"
	"github.com/username/brokerbridge/backend/src/normalizer"
	"github.com/username/brokerbridge/backend/src/params"
)

const (
	statusCacheKey = "upstream_status"
	statusCacheTTL = 30 * time.Second
)

// Provider exposes the named service objects of an upstream client.
type Provider interface {
	Targets() []capability.Target
}

// UserStore keeps the fingerprint of each registered user's secret.
type UserStore interface {
	UpsertUser(ctx context.Context, user models.UserRecord) error
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)
}

// SecretHasher fingerprints user secrets before they are persisted.
type SecretHasher interface {
	HashSecret(secret string) (string, error)
	CompareSecret(hashedSecret, secret string) error
}

// Registration is the outcome of registering a user upstream.
type Registration struct {
	Data              any
	AlreadyRegistered bool
}

// LoginRequest carries the identity pair and the optional redirect hints of a login.
type LoginRequest struct {
	UserID     string
	UserSecret string
	Options    map[string]any
}

// BrokerageService resolves upstream operations by capability, calls them with the
// superset argument object and normalizes what comes back.
type BrokerageService struct {
	provider    Provider
	resolver    *capability.Resolver
	metrics     *metrics.Metrics
	users       UserStore
	hasher      SecretHasher
	statusCache *cache.Cache
	lookback    time.Duration
	now         func() time.Time
}

// NewBrokerageService wires the service. users and hasher may be nil, in which case
// registrations are not recorded locally.
func NewBrokerageService(provider Provider, resolver *capability.Resolver, m *metrics.Metrics,
	users UserStore, hasher SecretHasher, lookback time.Duration) *BrokerageService {
	if resolver == nil {
		resolver = capability.NewResolver(0)
	}
	if lookback <= 0 {
		lookback = params.DefaultLookback
	}
	return &BrokerageService{
		provider:    provider,
		resolver:    resolver,
		metrics:     m,
		users:       users,
		hasher:      hasher,
		statusCache: cache.New(statusCacheTTL, 2*statusCacheTTL),
		lookback:    lookback,
		now:         time.Now,
	}
}

// Accounts lists the user's brokerage accounts.
func (s *BrokerageService) Accounts(ctx context.Context, f params.Fields) (*models.RecordPage, error) {
	if err := requireIdentity("brokerage.accounts", f, false); err != nil {
		return nil, err
	}
	return s.fetch(ctx, "brokerage.accounts", capability.ListAccounts, f, models.KindAccount)
}

// Holdings lists positions for one account, or for every account when none is given.
func (s *BrokerageService) Holdings(ctx context.Context, f params.Fields) (*models.RecordPage, error) {
	if err := requireIdentity("brokerage.holdings", f, false); err != nil {
		return nil, err
	}
	c := capability.ListAllHoldings
	if f.AccountID != "" {
		c = capability.ListHoldings
	}
	return s.fetch(ctx, "brokerage.holdings", c, f, models.KindHolding)
}

// Activities lists the account's activity history within the requested window.
func (s *BrokerageService) Activities(ctx context.Context, f params.Fields) (*models.RecordPage, error) {
	if err := requireIdentity("brokerage.activities", f, true); err != nil {
		return nil, err
	}
	return s.fetch(ctx, "brokerage.activities", capability.ListActivities, f, models.KindActivity)
}

// Transactions prefers a dedicated transactions operation and falls back to activities
// when none is available, the call fails or it returns nothing.
func (s *BrokerageService) Transactions(ctx context.Context, f params.Fields) (*models.RecordPage, error) {
	const op = "brokerage.transactions"
	if err := requireIdentity(op, f, true); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)

	var primary *models.RecordPage
	if _, rerr := s.resolver.Resolve(s.provider.Targets(), capability.ListTransactions); rerr != nil {
		log.Debug("No transactions operation in this client build, using activities")
	} else {
		page, err := s.fetch(ctx, op, capability.ListTransactions, f, models.KindActivity)
		if err == nil && len(page.Items) > 0 {
			return page, nil
		}
		if err != nil {
			log.Info("Transactions operation failed, falling back to activities", "error", err)
		} else {
			log.Info("Transactions operation returned no records, falling back to activities",
				"operation", page.Used.Operation)
			primary = page
		}
	}

	fallback, ferr := s.fetch(ctx, op, capability.ListActivities, f, models.KindActivity)
	if ferr != nil {
		if primary != nil {
			return primary, nil
		}
		return nil, ferr
	}
	return fallback, nil
}

// Status reports the upstream health check, cached briefly.
func (s *BrokerageService) Status(ctx context.Context) (any, error) {
	if cached, found := s.statusCache.Get(statusCacheKey); found {
		return cached, nil
	}
	out, _, err := s.call(ctx, "brokerage.status", capability.CheckStatus, capability.Args{})
	if err != nil {
		return nil, err
	}
	payload := unwrapEnvelope(out)
	s.statusCache.SetDefault(statusCacheKey, payload)
	return payload, nil
}

// Register creates the user upstream. An upstream "already exists" rejection is reported
// as AlreadyRegistered rather than as an error.
func (s *BrokerageService) Register(ctx context.Context, userID string) (*Registration, error) {
	const op = "brokerage.register"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.New(op, errs.CodeInvalid, errs.WithMessage("Missing userId"))
	}

	out, _, err := s.call(ctx, op, capability.RegisterUser, params.IdentityArgs(userID, ""))
	if err != nil {
		if errs.StatusOf(err) == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Error()), "exist") {
			logger.FromContext(ctx).Info("User already registered upstream", "userId", userID)
			return &Registration{AlreadyRegistered: true}, nil
		}
		return nil, err
	}

	payload := unwrapEnvelope(out)
	s.recordUser(ctx, userID, payload)
	return &Registration{Data: payload}, nil
}

// Login requests a connection portal URI for the user.
func (s *BrokerageService) Login(ctx context.Context, req LoginRequest) (any, error) {
	const op = "brokerage.login"
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.UserSecret) == "" {
		return nil, errs.New(op, errs.CodeInvalid, errs.WithMessage("Missing userId or userSecret"))
	}
	s.checkFingerprint(ctx, req.UserID, req.UserSecret)

	args := params.IdentityArgs(req.UserID, req.UserSecret)
	for k, v := range req.Options {
		if _, reserved := args[k]; !reserved {
			args[k] = v
		}
	}
	out, _, err := s.call(ctx, op, capability.LoginUser, args)
	if err != nil {
		return nil, err
	}
	return unwrapEnvelope(out), nil
}

// Operations lists every callable operation per upstream service.
func (s *BrokerageService) Operations() map[string][]string {
	return capability.Inventory(s.provider.Targets())
}

func (s *BrokerageService) fetch(ctx context.Context, op string, c capability.Capability, f params.Fields, kind models.RecordKind) (*models.RecordPage, error) {
	args := params.BuildArgs(f, s.now(), s.lookback)
	out, h, err := s.call(ctx, op, c, args)
	if err != nil {
		return nil, err
	}
	payload := unwrapEnvelope(out)
	items := normalizer.Normalize(payload, f.AccountID, kind)
	logger.FromContext(ctx).Debug("Normalized upstream response",
		"operation", h.QualifiedName(), "kind", kind, "count", len(items))
	return &models.RecordPage{
		Items:      items,
		NextCursor: normalizer.NextCursor(payload),
		Used:       models.UsedOperation{Service: h.Service, Operation: h.Name},
	}, nil
}

// call resolves c and invokes it, translating failures into error envelopes.
func (s *BrokerageService) call(ctx context.Context, op string, c capability.Capability, args capability.Args) (any, *capability.Handle, error) {
	log := logger.FromContext(ctx)
	h, err := s.resolver.Resolve(s.provider.Targets(), c)
	if err != nil {
		s.metrics.ObserveResolutionFailure(c.Name)
		log.Error("No upstream operation matched capability", "capability", c.Name, "error", err)
		return nil, nil, resolutionError(op, err)
	}

	start := time.Now()
	out, err := h.Call(ctx, args)
	took := time.Since(start)
	if err != nil {
		s.metrics.ObserveUpstream(c.Name, "error", took)
		log.Warn("Upstream operation failed", "operation", h.QualifiedName(), "duration", took, "error", err)
		return nil, h, upstreamError(op, err)
	}
	s.metrics.ObserveUpstream(c.Name, "ok", took)
	log.Debug("Upstream operation succeeded", "operation", h.QualifiedName(), "duration", took)
	return out, h, nil
}

func (s *BrokerageService) recordUser(ctx context.Context, userID string, payload any) {
	if s.users == nil || s.hasher == nil {
		return
	}
	rec := models.UserRecord{UserID: userID, RegisteredAt: s.now().UTC()}
	if m, ok := payload.(map[string]any); ok {
		if secret, ok := m["userSecret"].(string); ok && secret != "" {
			hash, err := s.hasher.HashSecret(secret)
			if err != nil {
				logger.FromContext(ctx).Error("Failed to fingerprint user secret", "userId", userID, "error", err)
				return
			}
			rec.SecretHash = hash
		}
	}
	if err := s.users.UpsertUser(ctx, rec); err != nil {
		logger.FromContext(ctx).Error("Failed to record registered user", "userId", userID, "error", err)
	}
}

// checkFingerprint logs when a login presents a secret that differs from the one issued
// at registration. The upstream remains the authority, so the login proceeds.
func (s *BrokerageService) checkFingerprint(ctx context.Context, userID, secret string) {
	if s.users == nil || s.hasher == nil {
		return
	}
	rec, err := s.users.GetUser(ctx, userID)
	if err != nil || rec == nil || rec.SecretHash == "" {
		return
	}
	if s.hasher.CompareSecret(rec.SecretHash, secret) != nil {
		logger.FromContext(ctx).Warn("Login secret does not match the fingerprint recorded at registration", "userId", userID)
	}
}

func requireIdentity(op string, f params.Fields, needAccount bool) error {
	if strings.TrimSpace(f.UserID) == "" || strings.TrimSpace(f.UserSecret) == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("Missing userId or userSecret"))
	}
	if needAccount && strings.TrimSpace(f.AccountID) == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("Missing userId, userSecret or accountId"))
	}
	return nil
}

func resolutionError(op string, err error) error {
	var re *capability.ResolutionError
	if !errors.As(err, &re) {
		return errs.New(op, errs.CodeResolution, errs.WithCause(err))
	}
	return errs.New(op, errs.CodeResolution,
		errs.WithMessage(fmt.Sprintf("No %s operation found in this client build (call with ?peek=1 to inspect operations)", re.Capability)),
		errs.WithDetail("candidates", re.Candidates),
		errs.WithDetail("available", re.Available),
		errs.WithCause(err))
}

// upstreamError mirrors the upstream status and reduces the body to a JSON-safe value.
func upstreamError(op string, err error) error {
	var e *errs.E
	if errors.As(err, &e) {
		return err
	}
	status := http.StatusInternalServerError
	var withStatus interface{ HTTPStatus() int }
	if errors.As(err, &withStatus) {
		status = withStatus.HTTPStatus()
	}
	var body any = map[string]any{"message": err.Error()}
	var withBody interface{ ResponseBody() any }
	if errors.As(err, &withBody) && withBody.ResponseBody() != nil {
		body = withBody.ResponseBody()
	}
	return errs.New(op, errs.CodeUpstream,
		errs.WithHTTP(status),
		errs.WithMessage(err.Error()),
		errs.WithDetail("error", body),
		errs.WithCause(err))
}

var transportKeys = map[string]bool{
	"status": true, "statusText": true, "headers": true, "config": true, "request": true,
}

// unwrapEnvelope strips a transport envelope ({data, status, headers, ...}) some client
// builds wrap their payload in.
func unwrapEnvelope(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	data, ok := m["data"]
	if !ok {
		return v
	}
	for k := range m {
		if k != "data" && !transportKeys[k] {
			return v
		}
	}
	return data
}
