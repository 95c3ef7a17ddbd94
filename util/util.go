package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	rnd "math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// ExtractHost returns the lowercased host of a URI, or "" when the URI has
// no usable host. Example: "https://Mastodon.Social/users/alice" ->
// "mastodon.social"
func ExtractHost(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// SameOrigin reports whether two URIs share the same normalized host.
func SameOrigin(a, b string) bool {
	ha := ExtractHost(a)
	hb := ExtractHost(b)
	if ha == "" || hb == "" {
		return false
	}
	return ha == hb
}

// ParseAcct splits "user@domain" (with or without a leading @) into its parts.
func ParseAcct(acct string) (username, domain string, ok bool) {
	acct = strings.TrimPrefix(acct, "acct:")
	acct = strings.TrimPrefix(acct, "@")
	parts := strings.SplitN(acct, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.ToLower(parts[1]), true
}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// StripHTML reduces rendered content to comparable plain text. Used to decide
// whether an edit materially changed the text of a post.
func StripHTML(s string) string {
	stripped := htmlTagRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// JitterDuration returns a random duration in [minSec, maxSec] seconds.
func JitterDuration(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	return time.Duration(minSec+rnd.Intn(maxSec-minSec+1)) * time.Second
}

func RandomString(length int) string {
	b := make([]byte, length)
	rnd.Read(b)
	return fmt.Sprintf("%x", b)[:length]
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	pub := key.Public()

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PRIVATE KEY", // PKCS#8 format
			Bytes: pkcs8Bytes,
		},
	)

	pkixBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY", // PKIX format
			Bytes: pkixBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05 CEST"
}
