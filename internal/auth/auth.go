// Package auth implements the Auth/Identity component (C8): principal
// registration with bcrypt-hashed credentials, bearer token issuance
// and validation via signed JWTs, and the role gate the Control API
// calls before dispatching a request.
package auth

import (
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// TokenTTL is how long an issued bearer token remains valid.
const TokenTTL = 24 * time.Hour

// claims embeds the registered JWT fields and carries the principal's
// role so validate can authorize without a second lookup.
type claims struct {
	Role types.Role `json:"role"`
	jwt.StandardClaims
}

// Store persists principals. The in-memory implementation below is
// sufficient for a single process; a real deployment would back it
// with the principals table from §6's persisted state layout.
type Store interface {
	Save(p *types.Principal) error
	Get(id string) (*types.Principal, bool)
}

// MemoryStore is the in-memory Store, safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]*types.Principal
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{principals: make(map[string]*types.Principal)}
}

func (s *MemoryStore) Save(p *types.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(id string) (*types.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Service is the Auth/Identity component (C8).
type Service struct {
	logger    *slog.Logger
	store     Store
	signKey   []byte
	bcryptCost int
}

// New constructs a Service. signKey signs and verifies issued tokens;
// it must be stable across process restarts or every outstanding token
// is invalidated.
func New(logger *slog.Logger, store Store, signKey []byte) *Service {
	return &Service{
		logger:     logger.With("component", "auth"),
		store:      store,
		signKey:    signKey,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register stores a new principal with a salted, bcrypt-hashed
// credential. The plaintext credential is never persisted or logged.
func (s *Service) Register(principalID, credential string, role types.Role) (*types.Principal, error) {
	if principalID == "" || credential == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "principal_id and credential are required").
			WithComponent("auth").WithOperation("Register")
	}
	if _, exists := s.store.Get(principalID); exists {
		return nil, errors.New(errors.CodeConflict, "principal already registered").
			WithComponent("auth").WithOperation("Register")
	}
	if role == "" {
		role = types.RoleViewer
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to hash credential").
			WithComponent("auth").WithOperation("Register")
	}

	p := &types.Principal{ID: principalID, Role: role, HashedCredential: string(hashed)}
	if err := s.store.Save(p); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to persist principal").
			WithComponent("auth").WithOperation("Register")
	}

	out := *p
	out.HashedCredential = ""
	return &out, nil
}

// Login verifies the credential against the stored hash and, on
// success, returns a signed bearer token embedding principal_id, role,
// and expires_at.
func (s *Service) Login(principalID, credential string) (string, error) {
	p, ok := s.store.Get(principalID)
	if !ok {
		return "", errors.New(errors.CodeUnauthenticated, "invalid credentials").
			WithComponent("auth").WithOperation("Login")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.HashedCredential), []byte(credential)); err != nil {
		return "", errors.New(errors.CodeUnauthenticated, "invalid credentials").
			WithComponent("auth").WithOperation("Login")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: p.Role,
		StandardClaims: jwt.StandardClaims{
			Subject:   p.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(TokenTTL).Unix(),
		},
	})

	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "failed to sign token").
			WithComponent("auth").WithOperation("Login")
	}
	return signed, nil
}

// Validate parses and verifies a bearer token, rejecting expired,
// malformed, or signature-mismatched tokens, and returns the principal
// it identifies.
func (s *Service) Validate(bearerToken string) (*types.Principal, error) {
	parsed, err := jwt.ParseWithClaims(bearerToken, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CodeUnauthenticated, "unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New(errors.CodeUnauthenticated, "invalid or expired token").
			WithComponent("auth").WithOperation("Validate")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return nil, errors.New(errors.CodeUnauthenticated, "malformed token claims").
			WithComponent("auth").WithOperation("Validate")
	}

	return &types.Principal{ID: c.Subject, Role: c.Role}, nil
}

// roleRank orders roles by increasing privilege; a principal whose role
// ranks at or above the minimum required role satisfies RequireMinRole.
var roleRank = map[types.Role]int{
	types.RoleViewer: 0,
	types.RoleUser:   1,
	types.RoleAdmin:  2,
}

// Require validates bearerToken and checks that the resulting
// principal's role is a member of allowed. Fails with UNAUTHENTICATED
// when the token is invalid, or FORBIDDEN when the role isn't sufficient.
func (s *Service) Require(bearerToken string, allowed ...types.Role) (*types.Principal, error) {
	p, err := s.Validate(bearerToken)
	if err != nil {
		return nil, err
	}

	for _, role := range allowed {
		if p.Role == role {
			return p, nil
		}
	}
	return nil, errors.New(errors.CodeForbidden, "principal's role is not permitted for this operation").
		WithComponent("auth").WithOperation("Require").WithDetail("role", p.Role)
}

// RequireMinRole is a convenience gate for the common "at least this
// privilege level" check (viewer < user < admin).
func (s *Service) RequireMinRole(bearerToken string, minRole types.Role) (*types.Principal, error) {
	p, err := s.Validate(bearerToken)
	if err != nil {
		return nil, err
	}
	if roleRank[p.Role] < roleRank[minRole] {
		return nil, errors.New(errors.CodeForbidden, "principal's role is below the required privilege level").
			WithComponent("auth").WithOperation("RequireMinRole").WithDetail("role", p.Role)
	}
	return p, nil
}
