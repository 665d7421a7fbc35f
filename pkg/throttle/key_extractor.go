package throttle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
)

// KeyExtractor derives the quota partition key from an HTTP request. Two
// requests with the same key share quota.
type KeyExtractor func(*http.Request) (string, error)

// Key-extraction strategy names accepted by ParseStrategy and by the
// per-class "strategy" configuration field.
const (
	StrategyAddress      = "address"
	StrategyAddressAgent = "address-agent"
	StrategyCredentials  = "credentials"
	StrategyEntity       = "entity"
)

// maxKeyBodyBytes caps how much of a request body key extraction will read.
const maxKeyBodyBytes = 256 << 10

// ExtractClientAddress returns a KeyExtractor using the client network
// address. It honors X-Forwarded-For and X-Real-IP before falling back to
// RemoteAddr, for deployments behind a reverse proxy.
func ExtractClientAddress() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := clientAddress(r)
		if ip == "" {
			return "", fmt.Errorf("%w: empty client address", ErrKeyExtractionFailed)
		}
		return "addr:" + ip, nil
	}
}

// ExtractAddressAgent returns the default KeyExtractor: client address plus
// normalized User-Agent, hashed to a bounded-length key. The hash is for
// stability and bounded length, not secrecy.
func ExtractAddressAgent() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := clientAddress(r)
		if ip == "" {
			return "", fmt.Errorf("%w: empty client address", ErrKeyExtractionFailed)
		}
		agent := strings.ToLower(strings.TrimSpace(r.UserAgent()))
		sum := xxhash.Sum64String(ip + "|" + agent)
		return "ua:" + strconv.FormatUint(sum, 16), nil
	}
}

// ExtractClientCredentials returns a KeyExtractor for endpoints requiring
// caller authentication. It uses the client_id body field or the username of
// a Basic Authorization header, and falls back to address+agent when neither
// is present. It never fails on malformed credentials; absence only widens
// the key to the network address.
func ExtractClientCredentials() KeyExtractor {
	fallback := ExtractAddressAgent()
	return func(r *http.Request) (string, error) {
		if id, _, ok := r.BasicAuth(); ok && id != "" {
			return "client:" + id, nil
		}
		if id := bodyField(peekBody(r), "client_id"); id != "" {
			return "client:" + id, nil
		}
		return fallback(r)
	}
}

// ExtractEntityID returns a KeyExtractor keyed on the federation entity
// carried in the request body. Three locations are tried in order: the
// entity_configuration field, the first entry of the trust_chain array, and
// the request object. Each is decoded as a JWT without signature
// verification and the sub (or iss) claim becomes the key. Any decode
// failure falls through silently; when every location fails the key falls
// back to address+agent, so extraction is total for malformed input.
func ExtractEntityID() KeyExtractor {
	fallback := ExtractAddressAgent()
	return func(r *http.Request) (string, error) {
		body := peekBody(r)
		for _, raw := range tokenCandidates(body) {
			if entity, ok := tokenSubject(raw); ok {
				return "entity:" + entity, nil
			}
		}
		return fallback(r)
	}
}

// ParseStrategy resolves a strategy name to a KeyExtractor.
func ParseStrategy(name string) (KeyExtractor, error) {
	switch name {
	case "", StrategyAddressAgent:
		return ExtractAddressAgent(), nil
	case StrategyAddress:
		return ExtractClientAddress(), nil
	case StrategyCredentials:
		return ExtractClientCredentials(), nil
	case StrategyEntity:
		return ExtractEntityID(), nil
	default:
		return nil, fmt.Errorf("%w: unknown key strategy %q", ErrInvalidConfig, name)
	}
}

// clientAddress resolves the client IP, preferring proxy headers.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the original client.
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return ip
}

// peekBody reads the request body and puts it back, so the handler behind
// the gate still sees it. Reading is capped at maxKeyBodyBytes; a larger
// body is left untouched rather than truncated.
func peekBody(r *http.Request) []byte {
	if r == nil || r.Body == nil || r.ContentLength > maxKeyBodyBytes {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBodyBytes+1))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) > maxKeyBodyBytes {
		return nil
	}
	return data
}

// bodyField reads a single string field from a JSON object or a
// form-encoded body.
func bodyField(body []byte, name string) string {
	if len(body) == 0 {
		return ""
	}
	if vals, ok := jsonObject(body); ok {
		s, _ := vals[name].(string)
		return s
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return form.Get(name)
}

// tokenCandidates collects the possible token locations from the body, in
// the fixed order entity_configuration, trust_chain[0], request.
func tokenCandidates(body []byte) []string {
	if len(body) == 0 {
		return nil
	}

	vals, ok := jsonObject(body)
	if !ok {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		vals = make(map[string]any, len(form))
		for k := range form {
			vals[k] = form.Get(k)
		}
	}

	var out []string
	if s, ok := vals["entity_configuration"].(string); ok && s != "" {
		out = append(out, s)
	}
	if s := firstChainEntry(vals["trust_chain"]); s != "" {
		out = append(out, s)
	}
	if s, ok := vals["request"].(string); ok && s != "" {
		out = append(out, s)
	}
	return out
}

// firstChainEntry pulls the first element of a trust_chain value, which is
// either a JSON array or, in a form body, a JSON-encoded array string.
func firstChainEntry(v any) string {
	switch chain := v.(type) {
	case []any:
		if len(chain) > 0 {
			s, _ := chain[0].(string)
			return s
		}
	case string:
		var arr []string
		if err := json.Unmarshal([]byte(chain), &arr); err == nil && len(arr) > 0 {
			return arr[0]
		}
	}
	return ""
}

// tokenSubject decodes a compact JWT without verifying its signature and
// returns the sub claim, or iss when sub is absent. Validity of the token is
// the authorization engine's concern; here it only narrows the key.
func tokenSubject(raw string) (string, bool) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, true
	}
	if iss, ok := claims["iss"].(string); ok && iss != "" {
		return iss, true
	}
	return "", false
}

func jsonObject(body []byte) (map[string]any, bool) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var vals map[string]any
	if err := json.Unmarshal(trimmed, &vals); err != nil {
		return nil, false
	}
	return vals, true
}
