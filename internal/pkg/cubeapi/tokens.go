package cubeapi

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

// Renew this long before the platform expiry to avoid in-flight calls
// racing the deadline
const defaultTokenSafetyMargin = time.Second * 60

// TokenInfo is an immutable snapshot of the live access token
type TokenInfo struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UID          string
}

func (t TokenInfo) valid(margin time.Duration) bool {
	return t.AccessToken != "" && time.Until(t.ExpiresAt) > margin
}

func hashOf(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// obfuscate tokens when stringified
func (t TokenInfo) String() string {
	return fmt.Sprintf("accessToken [%s]  refreshToken [%s]  expiresAt [%s]  uid [%s]",
		hashOf(t.AccessToken), hashOf(t.RefreshToken), t.ExpiresAt, t.UID)
}

// Version of the token state that we marshal/unmarshal
type tokenMarshal struct {
	AccessToken  string    `json:"access-token"`
	RefreshToken string    `json:"refresh-token"`
	ExpiresAt    time.Time `json:"expires-at"`
	UID          string    `json:"uid"`
}

// tokenManager owns the one live token.  Renewal is single-flighted:
// concurrent callers queue on the in-flight renewal instead of issuing
// duplicate grant requests.
type tokenManager struct {
	grant  func(ctx context.Context) (*TokenInfo, error)
	renew  func(ctx context.Context, refreshToken string) (*TokenInfo, error)
	margin time.Duration

	sf singleflight.Group

	mu        sync.Mutex
	current   TokenInfo
	stateFile string
}

func newTokenManager(grant func(ctx context.Context) (*TokenInfo, error),
	renew func(ctx context.Context, refreshToken string) (*TokenInfo, error)) *tokenManager {
	return &tokenManager{
		grant:  grant,
		renew:  renew,
		margin: defaultTokenSafetyMargin,
	}
}

func (m *tokenManager) snapshot() TokenInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *tokenManager) store(tok TokenInfo) {
	m.mu.Lock()
	m.current = tok
	file := m.stateFile
	m.mu.Unlock()

	if file != "" {
		if err := m.save(file, tok); err != nil {
			logging.Logger(nil).WithError(err).Warn("saving token state")
		}
	}
}

// Bootstrap obtains the initial token.  A failure here is an AuthError or
// TransientError and is fatal for the whole pipeline until resolved.
func (m *tokenManager) Bootstrap(ctx context.Context) error {
	_, err := m.Valid(ctx)
	return err
}

// Valid returns the current access token, renewing it first if it is
// missing or inside the safety margin of its expiry
func (m *tokenManager) Valid(ctx context.Context) (string, error) {
	if tok := m.snapshot(); tok.valid(m.margin) {
		return tok.AccessToken, nil
	}

	v, err, _ := m.sf.Do("renew", func() (interface{}, error) {
		// A queued caller may arrive after the renewal it queued behind
		// completed; take the fresh token without another network call
		if tok := m.snapshot(); tok.valid(m.margin) {
			return tok.AccessToken, nil
		}

		tok, err := m.obtain(ctx)
		if err != nil {
			return "", err
		}

		logging.Logger(ctx).Debugf("token renewed: %s", tok)
		m.store(*tok)
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// obtain renews via the refresh token when we hold one, falling back to a
// fresh client-credential grant when the renewal is refused
func (m *tokenManager) obtain(ctx context.Context) (*TokenInfo, error) {
	cur := m.snapshot()

	if cur.RefreshToken != "" {
		tok, err := m.renew(ctx, cur.RefreshToken)
		if err == nil {
			return tok, nil
		}

		var terr *TransientError
		if errors.As(err, &terr) {
			return nil, err
		}

		logging.Logger(ctx).WithError(err).Warn("token renewal refused, requesting a fresh grant")
	}

	return m.grant(ctx)
}

// Invalidate drops the current token if it is still the one a downstream
// call was rejected with.  A token already replaced by a concurrent
// renewal is left alone.
func (m *tokenManager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.AccessToken == stale {
		m.current = TokenInfo{RefreshToken: m.current.RefreshToken}
	}
}

func (m *tokenManager) save(fileName string, tok TokenInfo) error {
	tm := tokenMarshal{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		UID:          tok.UID,
	}

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening token state %s for write", fileName)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(tm); err != nil {
		return errors.Wrapf(err, "saving token state to %s", fileName)
	}

	return nil
}

// Load restores a previously saved token and arranges for future tokens
// to be saved to the same file.  A missing file is not an error; we will
// simply bootstrap from scratch.
func (m *tokenManager) Load(fileName string) error {
	m.mu.Lock()
	m.stateFile = fileName
	m.mu.Unlock()

	file, err := os.OpenFile(fileName, os.O_RDONLY, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "opening token state %s for read", fileName)
	}
	defer file.Close()

	tm := tokenMarshal{}
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&tm); err != nil {
		return errors.Wrapf(err, "loading token state from %s", fileName)
	}

	m.mu.Lock()
	m.current = TokenInfo{
		AccessToken:  tm.AccessToken,
		RefreshToken: tm.RefreshToken,
		ExpiresAt:    tm.ExpiresAt,
		UID:          tm.UID,
	}
	m.mu.Unlock()

	return nil
}
