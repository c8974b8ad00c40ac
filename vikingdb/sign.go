package vikingdb

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const signAlgorithm = "HMAC-SHA256"

// credentials identify the caller for request signing.
type credentials struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// sign adds Volcengine V4 signature headers (X-Date, X-Content-Sha256,
// Authorization) to req. body must be the exact bytes sent.
func sign(req *http.Request, body []byte, cred credentials, now time.Time) {
	now = now.UTC()
	xDate := now.Format("20060102T150405Z")
	shortDate := xDate[:8]
	payloadHash := hashHex(body)

	req.Header.Set("X-Date", xDate)
	req.Header.Set("X-Content-Sha256", payloadHash)
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	signedHeaders, canonicalHeaders := canonicalizeHeaders(req)

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalPath(req.URL),
		canonicalQuery(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, cred.Region, cred.Service, "request"}, "/")
	stringToSign := strings.Join([]string{
		signAlgorithm,
		xDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := hmacSHA256([]byte(cred.SecretKey), shortDate)
	key = hmacSHA256(key, cred.Region)
	key = hmacSHA256(key, cred.Service)
	key = hmacSHA256(key, "request")
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", signAlgorithm+
		" Credential="+cred.AccessKey+"/"+scope+
		", SignedHeaders="+signedHeaders+
		", Signature="+signature)
}

// canonicalizeHeaders returns the signed header list and the canonical
// header block. Host, Content-Type and the X-* signing headers are signed.
func canonicalizeHeaders(req *http.Request) (signed, canonical string) {
	values := map[string]string{
		"host": req.Header.Get("Host"),
	}
	for _, name := range []string{"Content-Type", "X-Date", "X-Content-Sha256"} {
		if v := req.Header.Get(name); v != "" {
			values[strings.ToLower(name)] = strings.TrimSpace(v)
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(values[name])
		sb.WriteString("\n")
	}
	return strings.Join(names, ";"), sb.String()
}

func canonicalPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, escapeRFC3986(k)+"="+escapeRFC3986(v))
		}
	}
	return strings.Join(parts, "&")
}

func escapeRFC3986(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
