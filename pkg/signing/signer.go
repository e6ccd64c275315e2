// Package signing implements SigV4-style request signing for the Selling
// Partner API: canonical request construction, string-to-sign derivation,
// and the keyed-hash signature chain.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// Algorithm is the fixed signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// DefaultService is the API gateway service name used in the
	// credential scope.
	DefaultService = "execute-api"

	// HeaderDate carries the request timestamp in amz-date format.
	HeaderDate = "x-amz-date"

	// HeaderSecurityToken carries the temporary session token. Every
	// signed request includes it; long-lived-key-only signing is not
	// supported.
	HeaderSecurityToken = "x-amz-security-token"

	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"
)

// Credentials are the temporary signing credentials injected by the
// credential manager.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Signer computes request signatures for a fixed region and service.
// Sign is a pure function of its inputs and the injected clock, so it can
// be verified against fixed test vectors.
type Signer struct {
	Region    string
	Service   string
	UserAgent string

	// Now supplies the signing time; defaults to time.Now.
	Now func() time.Time
}

// New creates a signer for the given AWS signing region.
func New(region, userAgent string) *Signer {
	return &Signer{
		Region:    region,
		Service:   DefaultService,
		UserAgent: userAgent,
	}
}

// Sign computes the signature for the request and returns the headers to
// send: host, x-amz-date, x-amz-security-token, Authorization, and a
// user-agent if none was supplied. Any caller-provided headers are carried
// through untouched; only the fixed signed-header set participates in the
// signature, so extra headers never invalidate verification.
func (s *Signer) Sign(creds Credentials, method, host, path string, query url.Values, headers http.Header, body []byte) (http.Header, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("signing credentials are incomplete")
	}
	if creds.SessionToken == "" {
		return nil, fmt.Errorf("session token is required for signing")
	}
	if host == "" {
		return nil, fmt.Errorf("host is required for signing")
	}
	if path == "" {
		path = "/"
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().UTC()
	amzDate := t.Format(amzDateFormat)
	shortDate := t.Format(shortDateFormat)

	service := s.Service
	if service == "" {
		service = DefaultService
	}

	out := http.Header{}
	for k, vs := range headers {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	out.Set("host", host)
	out.Set(HeaderDate, amzDate)
	out.Set(HeaderSecurityToken, creds.SessionToken)
	if out.Get("user-agent") == "" && s.UserAgent != "" {
		out.Set("user-agent", s.UserAgent)
	}

	// Content hash: the empty string is hashed when there is no body.
	payloadHash := sha256.Sum256(body)
	payloadHex := hex.EncodeToString(payloadHash[:])

	signedHeaders := []string{"host", HeaderDate, HeaderSecurityToken}
	var canonicalHeaders strings.Builder
	for _, h := range signedHeaders {
		canonicalHeaders.WriteString(h)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(strings.TrimSpace(out.Get(h)))
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaderList := strings.Join(signedHeaders, ";")

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(method),
		path,
		CanonicalQueryString(query),
		canonicalHeaders.String(),
		signedHeaderList,
		payloadHex,
	}, "\n")

	scope := strings.Join([]string{shortDate, s.Region, service, "aws4_request"}, "/")

	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, shortDate, s.Region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	out.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, creds.AccessKeyID, scope, signedHeaderList, signature))

	return out, nil
}

// deriveSigningKey runs the four-step keyed-hash chain seeded from the
// secret key: date, region, service, and the fixed terminator.
func deriveSigningKey(secret, shortDate, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), shortDate)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
