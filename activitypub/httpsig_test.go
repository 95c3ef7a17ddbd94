package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

func testKeypair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Public key marshal failed: %v", err)
	}
	pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, string(pubPem)
}

func signedRequest(t *testing.T, key *rsa.PrivateKey, keyId, target string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", target, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request build failed: %v", err)
	}
	hash := sha256.Sum256(body)
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))
	if err := SignRequest(req, key, keyId); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	key, pubPem := testKeypair(t)
	keyId := "https://remote.example/users/alice#main-key"
	body := []byte(`{"type":"Create"}`)

	req := signedRequest(t, key, keyId, "https://vireo.example/inbox", body)

	actorURI, err := VerifyRequest(req, pubPem)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if actorURI != "https://remote.example/users/alice" {
		t.Errorf("Wrong actor URI from keyId: %s", actorURI)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, _ := testKeypair(t)
	_, otherPub := testKeypair(t)
	body := []byte(`{"type":"Create"}`)

	req := signedRequest(t, key, "https://remote.example/users/alice#main-key", "https://vireo.example/inbox", body)

	if _, err := VerifyRequest(req, otherPub); err == nil {
		t.Error("Expected verification failure with a different key")
	}
}

func TestVerifyRejectsTamperedHeader(t *testing.T) {
	key, pubPem := testKeypair(t)
	body := []byte(`{"type":"Create"}`)

	req := signedRequest(t, key, "https://remote.example/users/alice#main-key", "https://vireo.example/inbox", body)
	req.Header.Set("Date", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))

	if _, err := VerifyRequest(req, pubPem); err == nil {
		t.Error("Expected verification failure after header tampering")
	}
}

func TestSignatureKeyId(t *testing.T) {
	req, _ := http.NewRequest("POST", "https://vireo.example/inbox", nil)
	req.Header.Set("Signature",
		`keyId="https://remote.example/users/alice#main-key",algorithm="rsa-sha256",signature="abc"`)

	if got := SignatureKeyId(req); got != "https://remote.example/users/alice#main-key" {
		t.Errorf("Wrong keyId: %s", got)
	}
}

func TestSignatureKeyIdMissing(t *testing.T) {
	req, _ := http.NewRequest("POST", "https://vireo.example/inbox", nil)
	if got := SignatureKeyId(req); got != "" {
		t.Errorf("Expected empty keyId, got %s", got)
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey("not a pem block"); err == nil {
		t.Error("Expected error for non-PEM input")
	}
}

func TestParsePrivateKeyRoundtrip(t *testing.T) {
	key, _ := testKeypair(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(pemStr)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("Parsed key does not match the original")
	}
}
