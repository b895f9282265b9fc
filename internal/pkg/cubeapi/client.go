package cubeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

const defaultAPITimeout = time.Second * 15

// Platform business code for a rejected access token
const codeTokenInvalid = 1010

// Live is the production CubeAPI implementation
type Live struct {
	baseURL string
	schema  string
	signer  signer
	tokens  *tokenManager
	client  *http.Client
	timeout time.Duration
}

func NewLiveClient(baseURL, clientID, secret, schema string) *Live {
	c := &Live{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		schema:  schema,
		signer:  newSigner(clientID, secret),
		client:  &http.Client{},
		timeout: defaultAPITimeout,
	}

	c.tokens = newTokenManager(c.grantToken, c.renewToken)

	return c
}

func (c *Live) WithTimeout(d time.Duration) CubeAPI {
	nc := *c
	nc.timeout = d
	return &nc
}

// WithTokenState restores any saved token and keeps the state file
// updated on renewal
func (c *Live) WithTokenState(fileName string) (*Live, error) {
	if err := c.tokens.Load(fileName); err != nil {
		return nil, err
	}
	return c, nil
}

// Bootstrap obtains the initial access token.  Nothing else may be
// called until this succeeds.
func (c *Live) Bootstrap(ctx context.Context) error {
	return c.tokens.Bootstrap(ctx)
}

func (c *Live) Close() {
	c.client.CloseIdleConnections()
}

func (c *Live) makeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	return ctx, cancel
}

// The platform-standard response envelope
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	T       int64           `json:"t"`
	Result  json.RawMessage `json:"result"`
}

// execute signs and performs one request.  A non-success envelope is
// returned to the caller untranslated; wire level failures come back as
// TransientError or AuthError.
func (c *Live) execute(ctx context.Context, method, path string, query url.Values, body []byte, token string) (*envelope, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	in := signInput{
		method:    method,
		path:      path,
		query:     query,
		body:      body,
		token:     token,
		timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		nonce:     uuid.New().String(),
	}

	headers, err := c.signer.headers(in)
	if err != nil {
		return nil, errors.Wrap(err, "signing request")
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header = headers

	logging.Logger(ctx).Debugf("cube %s %s", method, reqURL)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "reading response body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(respBody))}
	case resp.StatusCode >= 500:
		return nil, &TransientError{
			Op:  fmt.Sprintf("%s %s", method, path),
			Err: fmt.Errorf("HTTP status %d: %s", resp.StatusCode, respBody),
		}
	}

	env := envelope{}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &TransientError{Op: "decoding response envelope", Err: err}
	}

	return &env, nil
}

// call performs an authenticated request.  A token-invalid rejection
// invalidates the current token and retries exactly once with a fresh
// one; a second rejection is surfaced.
func (c *Live) call(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	token, err := c.tokens.Valid(ctx)
	if err != nil {
		return err
	}

	env, err := c.execute(ctx, method, path, query, body, token)
	if err != nil {
		return err
	}

	if !env.Success && env.Code == codeTokenInvalid {
		logging.Logger(ctx).Debug("token rejected by platform, renewing and retrying once")
		c.tokens.Invalidate(token)

		token, err = c.tokens.Valid(ctx)
		if err != nil {
			return err
		}

		env, err = c.execute(ctx, method, path, query, body, token)
		if err != nil {
			return err
		}
	}

	if !env.Success {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return errors.Wrapf(err, "decoding result of %s %s", method, path)
		}
	}

	return nil
}

func (c *Live) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Live) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encoding body for POST %s", path)
	}

	return c.call(ctx, http.MethodPost, path, nil, b, out)
}

/*
 *   Token grants.  These are signed without a bearer token; envelope
 *   failures here are authentication failures by definition.
 */

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"`
	UID          string `json:"uid"`
}

func (r tokenResult) tokenInfo() *TokenInfo {
	return &TokenInfo{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpireTime) * time.Second),
		UID:          r.UID,
	}
}

func (c *Live) grantToken(ctx context.Context) (*TokenInfo, error) {
	query := url.Values{}
	query.Set("grant_type", "1")

	env, err := c.execute(ctx, http.MethodGet, "/v1.0/token", query, nil, "")
	if err != nil {
		return nil, err
	}

	if !env.Success {
		return nil, &AuthError{Code: env.Code, Msg: env.Msg}
	}

	res := tokenResult{}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, errors.Wrap(err, "decoding token grant result")
	}

	return res.tokenInfo(), nil
}

func (c *Live) renewToken(ctx context.Context, refreshToken string) (*TokenInfo, error) {
	env, err := c.execute(ctx, http.MethodGet, "/v1.0/token/"+refreshToken, nil, nil, "")
	if err != nil {
		return nil, err
	}

	if !env.Success {
		return nil, &AuthError{Code: env.Code, Msg: env.Msg}
	}

	res := tokenResult{}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, errors.Wrap(err, "decoding token renewal result")
	}

	return res.tokenInfo(), nil
}

/*
 *   Platform endpoints
 */

// ResolveUser looks up the stable UID behind a human-entered username.
// Runs once at setup; all device calls key on the UID.
func (c *Live) ResolveUser(ctx context.Context, username string) (*User, error) {
	query := url.Values{}
	query.Set("username", username)

	result := struct {
		List []User `json:"list"`
	}{}

	path := fmt.Sprintf("/v2.0/apps/%s/users", c.schema)
	if err := c.get(ctx, path, query, &result); err != nil {
		return nil, err
	}

	if len(result.List) == 0 || result.List[0].UID == "" {
		return nil, &UserNotFoundError{Username: username}
	}

	return &result.List[0], nil
}

func (c *Live) Homes(ctx context.Context, uid string) ([]Home, error) {
	var homes []Home
	if err := c.get(ctx, fmt.Sprintf("/v1.0/users/%s/homes", uid), nil, &homes); err != nil {
		return nil, err
	}

	return homes, nil
}

func (c *Live) Devices(ctx context.Context, uid string) ([]DeviceInfo, error) {
	query := url.Values{}
	query.Set("page_size", "100")

	var devices []DeviceInfo
	if err := c.get(ctx, fmt.Sprintf("/v1.0/users/%s/devices", uid), query, &devices); err != nil {
		return nil, err
	}

	return devices, nil
}

func (c *Live) Device(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	device := DeviceInfo{}
	if err := c.get(ctx, "/v1.0/devices/"+deviceID, nil, &device); err != nil {
		return nil, err
	}

	return &device, nil
}

func (c *Live) DeviceStatus(ctx context.Context, deviceID string) ([]StatusItem, error) {
	var status []StatusItem
	if err := c.get(ctx, fmt.Sprintf("/v1.0/devices/%s/status", deviceID), nil, &status); err != nil {
		return nil, err
	}

	return status, nil
}

func (c *Live) DeviceSpecification(ctx context.Context, deviceID string) (*Specification, error) {
	spec := Specification{}
	if err := c.get(ctx, fmt.Sprintf("/v1.0/devices/%s/specifications", deviceID), nil, &spec); err != nil {
		return nil, err
	}

	return &spec, nil
}

// SendCommands issues capability assignments to one device.  A business
// rejection comes back as CommandRejectedError and is never retried.
func (c *Live) SendCommands(ctx context.Context, deviceID string, commands []Command) error {
	body := struct {
		Commands []Command `json:"commands"`
	}{Commands: commands}

	err := c.post(ctx, fmt.Sprintf("/v1.0/devices/%s/commands", deviceID), body, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &CommandRejectedError{DeviceID: deviceID, Code: apiErr.Code, Msg: apiErr.Msg}
	}

	return err
}
