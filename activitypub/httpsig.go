package activitypub

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/murmur/domain"
	"github.com/go-fed/httpsig"
)

// maxClockSkew bounds the Date header of inbound signed requests.
const maxClockSkew = 12 * time.Hour

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// ErrInvalidSignature is returned for inbound requests whose signature,
// digest or date does not check out.
var ErrInvalidSignature = errors.New("invalid http signature")

// SignRequest signs an outgoing HTTP request with the given key pair.
// The Host, Date and Digest headers are set here.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, pair domain.KeyPair, keyId string, body []byte) error {
	algo, err := signatureAlgorithm(pair.Type)
	if err != nil {
		return err
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{algo},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	req.Header.Set("Host", req.URL.Host)
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Del("Digest")
	if body == nil {
		body = []byte{}
	}
	return signer.SignRequest(pair.PrivateKey, keyId, req, body)
}

// SignatureKeyID returns the keyId named in the request's Signature header.
func SignatureKeyID(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest checks the signature of an inbound request against pub, and
// the Digest and Date headers against body and now.
func VerifyRequest(req *http.Request, body []byte, pub crypto.PublicKey, now time.Time) error {
	date, err := http.ParseTime(req.Header.Get("Date"))
	if err != nil {
		return fmt.Errorf("%w: bad date header", ErrInvalidSignature)
	}
	if skew := now.Sub(date); skew > maxClockSkew || skew < -maxClockSkew {
		return fmt.Errorf("%w: date header outside the allowed window", ErrInvalidSignature)
	}
	if err := verifyDigest(req.Header.Get("Digest"), body); err != nil {
		return err
	}

	var algo httpsig.Algorithm
	switch pub.(type) {
	case *rsa.PublicKey:
		algo = httpsig.RSA_SHA256
	case ed25519.PublicKey:
		algo = httpsig.ED25519
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrInvalidSignature, pub)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := verifier.Verify(pub, algo); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// KeyOwner strips the fragment of a keyId, which by convention leaves the
// actor URI.
func KeyOwner(keyId string) string {
	owner, _, _ := strings.Cut(keyId, "#")
	return owner
}

func verifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("%w: missing digest header", ErrInvalidSignature)
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
			return nil
		}
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrInvalidSignature)
}

func signatureAlgorithm(keyType domain.KeyType) (httpsig.Algorithm, error) {
	switch keyType {
	case domain.KeyTypeRSA:
		return httpsig.RSA_SHA256, nil
	case domain.KeyTypeEd25519:
		return httpsig.ED25519, nil
	default:
		return "", fmt.Errorf("unsupported key type %q", keyType)
	}
}
