package activitypub

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/deemkeen/murmur/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupKeyStore(t *testing.T) (*KeyStore, int64) {
	t.Helper()
	database := setupTestDB(t)
	user, _, err := database.CreateLocalAccount(context.Background(), "alice", testFed.LocalActor("alice", "Alice"))
	require.NoError(t, err)
	return NewKeyStore(database, nil), user.Id
}

func TestGetOrCreateKeyPairs(t *testing.T) {
	keys, userId := setupKeyStore(t)
	ctx := context.Background()

	pairs, err := keys.GetOrCreateKeyPairs(ctx, userId)
	require.NoError(t, err)
	require.Len(t, pairs, len(domain.KeyTypes))
	assert.Equal(t, domain.KeyTypeRSA, pairs[0].Type)
	assert.Equal(t, domain.KeyTypeEd25519, pairs[1].Type)

	rsaPub, ok := pairs[0].PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	assert.GreaterOrEqual(t, rsaPub.N.BitLen(), 2048)
	_, ok = pairs[1].PublicKey.(ed25519.PublicKey)
	require.True(t, ok)

	before, err := keys.db.ReadKeys(ctx, userId)
	require.NoError(t, err)

	again, err := keys.GetOrCreateKeyPairs(ctx, userId)
	require.NoError(t, err)
	after, err := keys.db.ReadKeys(ctx, userId)
	require.NoError(t, err)

	assert.Equal(t, before, after, "second call must not regenerate keys")
	for i := range pairs {
		assert.Equal(t, pairs[i].PublicKey, again[i].PublicKey)
	}
}

func TestGetOrCreateKeyPairsConcurrentFirstAccess(t *testing.T) {
	keys, userId := setupKeyStore(t)
	ctx := context.Background()

	const callers = 4
	results := make([][]domain.KeyPair, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = keys.GetOrCreateKeyPairs(ctx, userId)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0][0].PublicKey, results[i][0].PublicKey)
		assert.Equal(t, results[0][1].PublicKey, results[i][1].PublicKey)
	}

	stored, err := keys.db.ReadKeys(ctx, userId)
	require.NoError(t, err)
	assert.Len(t, stored, len(domain.KeyTypes))
}

func TestKeyPairsForUnknownUser(t *testing.T) {
	keys, _ := setupKeyStore(t)
	_, err := keys.KeyPairsFor(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotLocalActor)
}

func TestEncodeDecodeKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	key, err := EncodeKey(1, domain.KeyTypeEd25519, priv)
	require.NoError(t, err)
	assert.Contains(t, key.PrivateKey, `"kty":"OKP"`)
	assert.NotContains(t, key.PublicKey, `"d"`)

	pair, err := DecodeKey(key)
	require.NoError(t, err)
	assert.Equal(t, priv.Public(), pair.PublicKey)

	key.Type = domain.KeyTypeRSA
	_, err = DecodeKey(key)
	require.Error(t, err)
}

func TestPublicKeyEncodings(t *testing.T) {
	keys, userId := setupKeyStore(t)
	pairs, err := keys.GetOrCreateKeyPairs(context.Background(), userId)
	require.NoError(t, err)

	for _, pair := range pairs {
		pemString, err := PublicKeyPEM(pair.PublicKey)
		require.NoError(t, err)
		assert.Contains(t, pemString, "-----BEGIN PUBLIC KEY-----")
		parsed, err := ParsePublicKeyPEM(pemString)
		require.NoError(t, err)
		assert.Equal(t, pair.PublicKey, parsed)

		multikey, err := Multikey(pair.PublicKey)
		require.NoError(t, err)
		assert.True(t, len(multikey) > 1 && multikey[0] == 'z')
		decoded, err := ParseMultikey(multikey)
		require.NoError(t, err)
		assert.Equal(t, pair.PublicKey, decoded)
	}

	ed, err := Multikey(pairs[1].PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "z6Mk", ed[:4], "ed25519 multikeys start with z6Mk")

	_, err = ParseMultikey("mAAAA")
	require.Error(t, err)
}
