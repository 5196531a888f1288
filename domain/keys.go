package domain

import (
	"crypto"
	"time"
)

// KeyType names a supported signature algorithm.
type KeyType string

const (
	KeyTypeRSA     KeyType = "RSASSA-PKCS1-v1_5"
	KeyTypeEd25519 KeyType = "Ed25519"
)

// KeyTypes is the canonical order of key pairs. The first entry is the
// primary signing key.
var KeyTypes = []KeyType{KeyTypeRSA, KeyTypeEd25519}

// Valid reports whether t is a supported algorithm.
func (t KeyType) Valid() bool {
	for _, kt := range KeyTypes {
		if kt == t {
			return true
		}
	}
	return false
}

// Key is a stored key pair row. Both halves are serialized JWK documents.
type Key struct {
	UserId     int64
	Type       KeyType
	PrivateKey string
	PublicKey  string
	Created    time.Time
}

// KeyPair is a deserialized key pair ready for signing.
type KeyPair struct {
	Type       KeyType
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
}
