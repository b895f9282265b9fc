package cubeapi

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticGrant(counter *int32, token string) func(ctx context.Context) (*TokenInfo, error) {
	return func(ctx context.Context) (*TokenInfo, error) {
		atomic.AddInt32(counter, 1)
		time.Sleep(time.Millisecond * 20)

		return &TokenInfo{
			AccessToken: token,
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil
	}
}

func noRenew(t *testing.T) func(ctx context.Context, refreshToken string) (*TokenInfo, error) {
	return func(ctx context.Context, refreshToken string) (*TokenInfo, error) {
		t.Fatal("unexpected renewal call")
		return nil, nil
	}
}

func TestValidReturnsCurrentToken(t *testing.T) {
	var grants int32
	m := newTokenManager(staticGrant(&grants, "tok1"), noRenew(t))
	m.store(TokenInfo{AccessToken: "existing", ExpiresAt: time.Now().Add(time.Hour)})

	tok, err := m.Valid(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "existing", tok)
	assert.EqualValues(t, 0, atomic.LoadInt32(&grants))
}

func TestValidRenewsInsideSafetyMargin(t *testing.T) {
	var grants int32
	m := newTokenManager(staticGrant(&grants, "fresh"), noRenew(t))
	m.store(TokenInfo{AccessToken: "old", ExpiresAt: time.Now().Add(time.Second * 30)})

	tok, err := m.Valid(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&grants))
}

func TestRenewalIsSingleFlighted(t *testing.T) {
	var grants int32
	m := newTokenManager(staticGrant(&grants, "tok1"), noRenew(t))

	const callers = 16
	tokens := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Valid(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&grants), "concurrent callers must share one renewal")
	for _, tok := range tokens {
		assert.Equal(t, "tok1", tok)
	}
}

func TestRenewalFallsBackToGrant(t *testing.T) {
	var grants, renews int32

	m := newTokenManager(
		staticGrant(&grants, "granted"),
		func(ctx context.Context, refreshToken string) (*TokenInfo, error) {
			atomic.AddInt32(&renews, 1)
			return nil, &AuthError{Code: 1012, Msg: "refresh token expired"}
		},
	)
	m.store(TokenInfo{AccessToken: "old", RefreshToken: "rt1", ExpiresAt: time.Now().Add(-time.Minute)})

	tok, err := m.Valid(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "granted", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&renews))
	assert.EqualValues(t, 1, atomic.LoadInt32(&grants))
}

func TestRenewalDoesNotMaskTransientErrors(t *testing.T) {
	var grants int32

	m := newTokenManager(
		staticGrant(&grants, "granted"),
		func(ctx context.Context, refreshToken string) (*TokenInfo, error) {
			return nil, &TransientError{Op: "GET /v1.0/token/rt1", Err: context.DeadlineExceeded}
		},
	)
	m.store(TokenInfo{AccessToken: "old", RefreshToken: "rt1", ExpiresAt: time.Now().Add(-time.Minute)})

	_, err := m.Valid(context.Background())

	var terr *TransientError
	assert.ErrorAs(t, err, &terr)
	assert.EqualValues(t, 0, atomic.LoadInt32(&grants), "a network blip must not trigger a credential grant")
}

func TestInvalidateOnlyDropsMatchingToken(t *testing.T) {
	m := newTokenManager(nil, nil)
	m.store(TokenInfo{AccessToken: "current", RefreshToken: "rt1", ExpiresAt: time.Now().Add(time.Hour)})

	m.Invalidate("some-older-token")
	assert.Equal(t, "current", m.snapshot().AccessToken)

	m.Invalidate("current")
	assert.Empty(t, m.snapshot().AccessToken)
	assert.Equal(t, "rt1", m.snapshot().RefreshToken, "refresh token survives invalidation")
}

func TestTokenStateRoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "tokens.json")

	m := newTokenManager(nil, nil)
	require.NoError(t, m.Load(stateFile))

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	m.store(TokenInfo{AccessToken: "tok1", RefreshToken: "rt1", ExpiresAt: expiry, UID: "u123"})

	m2 := newTokenManager(nil, nil)
	require.NoError(t, m2.Load(stateFile))

	got := m2.snapshot()
	assert.Equal(t, "tok1", got.AccessToken)
	assert.Equal(t, "rt1", got.RefreshToken)
	assert.Equal(t, "u123", got.UID)
	assert.True(t, got.ExpiresAt.Equal(expiry))
}

func TestTokenStringObfuscates(t *testing.T) {
	tok := TokenInfo{AccessToken: "very-secret-token", RefreshToken: "very-secret-refresh"}

	s := tok.String()
	assert.NotContains(t, s, "very-secret-token")
	assert.NotContains(t, s, "very-secret-refresh")
}
