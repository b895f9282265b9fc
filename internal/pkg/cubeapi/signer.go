package cubeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

/*
 *   HMAC-SHA256 request signing for the OPENAPI CUBE dialect.
 *
 *   The canonical string is:
 *       METHOD \n sha256(body) \n <signed headers> \n path[?sortedQuery]
 *   and the string that is MACed is:
 *       clientID + accessToken + timestamp + nonce + canonicalString
 *   where accessToken is empty for the token grant calls.  The MAC is the
 *   upper-case hex HMAC-SHA256 of that string under the client secret.
 */

const signMethod = "HMAC-SHA256"

type signer struct {
	clientID string
	secret   string
}

func newSigner(clientID, secret string) signer {
	return signer{
		clientID: clientID,
		secret:   secret,
	}
}

// signInput fully describes one request to be signed.  The token is empty
// for the grant/renew calls, which are signed without one.
type signInput struct {
	method    string
	path      string
	query     url.Values
	body      []byte
	token     string
	timestamp string
	nonce     string
}

func (in signInput) validate() error {
	switch in.method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("cannot sign request with method [%s]", in.method)
	}

	if !strings.HasPrefix(in.path, "/") {
		return fmt.Errorf("cannot sign request with relative path [%s]", in.path)
	}

	if in.timestamp == "" {
		return fmt.Errorf("cannot sign request without a timestamp")
	}

	return nil
}

// canonicalString builds the stable representation of the request that
// both ends of the wire agree on
func (in signInput) canonicalString() string {
	contentHash := sha256Hex(in.body)

	urlWithQuery := in.path
	if q := sortedQuery(in.query); q != "" {
		urlWithQuery = in.path + "?" + q
	}

	// No per-request signed headers in this dialect
	signedHeaders := ""

	return in.method + "\n" + contentHash + "\n" + signedHeaders + "\n" + urlWithQuery
}

// sign computes the signature value for the request
func (s signer) sign(in signInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	signStr := s.clientID + in.token + in.timestamp + in.nonce + in.canonicalString()

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(signStr))

	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil))), nil
}

// headers produces the full header set defining a valid signed request
func (s signer) headers(in signInput) (http.Header, error) {
	sign, err := s.sign(in)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("client_id", s.clientID)
	h.Set("sign", sign)
	h.Set("t", in.timestamp)
	h.Set("sign_method", signMethod)
	h.Set("Content-Type", "application/json")
	if in.nonce != "" {
		h.Set("nonce", in.nonce)
	}
	if in.token != "" {
		h.Set("access_token", in.token)
	}

	return h, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// sortedQuery renders the query string with keys in lexical order, the
// order the platform canonicalizes on
func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+q.Get(k))
	}

	return strings.Join(parts, "&")
}
