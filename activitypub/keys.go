package activitypub

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"github.com/go-jose/go-jose/v4"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const defaultRSABits = 2048

// multicodec prefixes of the public key types, varint encoded
var (
	multicodecEd25519 = []byte{0xed, 0x01}
	multicodecRSA     = []byte{0x85, 0x24}
)

// KeyStore hands out the signing key pairs of local users. Pairs are
// generated on first request and never regenerated afterwards.
type KeyStore struct {
	db      *db.DB
	logger  *zap.Logger
	rsaBits int
}

func NewKeyStore(database *db.DB, logger *zap.Logger) *KeyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{db: database, logger: logger.Named("keys"), rsaBits: defaultRSABits}
}

// GetOrCreateKeyPairs returns one key pair per supported algorithm in the
// order of domain.KeyTypes. Missing pairs are generated outside of any
// transaction and inserted with insert-or-ignore; the rows are then read
// back so concurrent first callers all end up with the same keys.
func (k *KeyStore) GetOrCreateKeyPairs(ctx context.Context, userId int64) ([]domain.KeyPair, error) {
	stored, err := k.db.ReadKeys(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("reading keys: %w", err)
	}

	var fresh []domain.Key
	for _, keyType := range domain.KeyTypes {
		if _, ok := stored[keyType]; ok {
			continue
		}
		key, err := k.generate(userId, keyType)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, key)
	}

	if len(fresh) > 0 {
		if err := k.db.InsertKeysIfAbsent(ctx, fresh); err != nil {
			return nil, fmt.Errorf("storing keys: %w", err)
		}
		k.logger.Info("generated key pairs", zap.Int64("user_id", userId), zap.Int("count", len(fresh)))
		if stored, err = k.db.ReadKeys(ctx, userId); err != nil {
			return nil, fmt.Errorf("reading keys: %w", err)
		}
	}

	pairs := make([]domain.KeyPair, 0, len(domain.KeyTypes))
	for _, keyType := range domain.KeyTypes {
		key, ok := stored[keyType]
		if !ok {
			return nil, fmt.Errorf("%s key of user %d missing after insert", keyType, userId)
		}
		pair, err := DecodeKey(key)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pair)
	}
	return pairs, nil
}

// KeyPairsFor resolves a local username and returns its key pairs.
func (k *KeyStore) KeyPairsFor(ctx context.Context, username string) ([]domain.KeyPair, error) {
	user, err := k.db.ReadUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotLocalActor
		}
		return nil, err
	}
	return k.GetOrCreateKeyPairs(ctx, user.Id)
}

func (k *KeyStore) generate(userId int64, keyType domain.KeyType) (domain.Key, error) {
	var priv crypto.Signer
	var err error
	switch keyType {
	case domain.KeyTypeRSA:
		priv, err = rsa.GenerateKey(rand.Reader, k.rsaBits)
	case domain.KeyTypeEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	default:
		return domain.Key{}, fmt.Errorf("unsupported key type %q", keyType)
	}
	if err != nil {
		return domain.Key{}, fmt.Errorf("generating %s key: %w", keyType, err)
	}
	return EncodeKey(userId, keyType, priv)
}

func jwkAlgorithm(keyType domain.KeyType) string {
	if keyType == domain.KeyTypeEd25519 {
		return string(jose.EdDSA)
	}
	return string(jose.RS256)
}

// EncodeKey serializes both halves of a key pair as JWK documents.
func EncodeKey(userId int64, keyType domain.KeyType, priv crypto.Signer) (domain.Key, error) {
	jwk := jose.JSONWebKey{Key: priv, Algorithm: jwkAlgorithm(keyType), Use: "sig"}
	privJSON, err := json.Marshal(jwk)
	if err != nil {
		return domain.Key{}, fmt.Errorf("encoding %s private key: %w", keyType, err)
	}
	pubJSON, err := json.Marshal(jwk.Public())
	if err != nil {
		return domain.Key{}, fmt.Errorf("encoding %s public key: %w", keyType, err)
	}
	return domain.Key{
		UserId:     userId,
		Type:       keyType,
		PrivateKey: string(privJSON),
		PublicKey:  string(pubJSON),
	}, nil
}

// DecodeKey restores a stored key row into a usable key pair.
func DecodeKey(key domain.Key) (*domain.KeyPair, error) {
	var priv, pub jose.JSONWebKey
	if err := json.Unmarshal([]byte(key.PrivateKey), &priv); err != nil {
		return nil, fmt.Errorf("decoding %s private key: %w", key.Type, err)
	}
	if err := json.Unmarshal([]byte(key.PublicKey), &pub); err != nil {
		return nil, fmt.Errorf("decoding %s public key: %w", key.Type, err)
	}

	signer, ok := priv.Key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s private key has unexpected type %T", key.Type, priv.Key)
	}
	switch key.Type {
	case domain.KeyTypeRSA:
		if _, ok := pub.Key.(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("RSA public key has unexpected type %T", pub.Key)
		}
	case domain.KeyTypeEd25519:
		if _, ok := pub.Key.(ed25519.PublicKey); !ok {
			return nil, fmt.Errorf("Ed25519 public key has unexpected type %T", pub.Key)
		}
	default:
		return nil, fmt.Errorf("unsupported key type %q", key.Type)
	}
	return &domain.KeyPair{Type: key.Type, PrivateKey: signer, PublicKey: pub.Key}, nil
}

// PublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" block.
func PublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshalling public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM accepts PKIX and PKCS#1 encoded public keys.
func ParsePublicKeyPEM(pemString string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemString)))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// Multikey encodes a public key as a base58btc multibase string.
func Multikey(pub crypto.PublicKey) (string, error) {
	var buf []byte
	switch key := pub.(type) {
	case ed25519.PublicKey:
		buf = append(append(buf, multicodecEd25519...), key...)
	case *rsa.PublicKey:
		buf = append(append(buf, multicodecRSA...), x509.MarshalPKCS1PublicKey(key)...)
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}
	return "z" + base58.Encode(buf), nil
}

// ParseMultikey decodes a value produced by Multikey.
func ParseMultikey(value string) (crypto.PublicKey, error) {
	if !strings.HasPrefix(value, "z") {
		return nil, fmt.Errorf("unsupported multibase encoding")
	}
	buf, err := base58.Decode(value[1:])
	if err != nil {
		return nil, fmt.Errorf("decoding multikey: %w", err)
	}
	switch {
	case bytes.HasPrefix(buf, multicodecEd25519):
		raw := buf[len(multicodecEd25519):]
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("ed25519 multikey has %d bytes", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	case bytes.HasPrefix(buf, multicodecRSA):
		return x509.ParsePKCS1PublicKey(buf[len(multicodecRSA):])
	default:
		return nil, fmt.Errorf("unsupported multicodec prefix")
	}
}
