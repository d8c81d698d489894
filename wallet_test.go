package nodescan

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeypair(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	key := ed25519.NewKeyFromSeed(seed)
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path, key.Public().(ed25519.PublicKey)
}

func TestKeypairWalletConnectAndSign(t *testing.T) {
	t.Parallel()

	path, pub := writeTestKeypair(t)
	wallet := &KeypairWallet{Path: path}
	require.True(t, wallet.Available())

	ctx := context.Background()
	pubkey, err := wallet.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(pub), pubkey)

	message := []byte("stake message")
	sig, err := wallet.SignTransaction(ctx, message)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, message, sig))

	require.NoError(t, wallet.Disconnect(ctx))
	_, err = wallet.SignTransaction(ctx, message)
	assert.ErrorIs(t, err, ErrWalletNotConnected)
}

func TestKeypairWalletRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]"), 0o600))

	_, err := (&KeypairWallet{Path: path}).Connect(context.Background())
	require.Error(t, err)
	assert.False(t, (&KeypairWallet{}).Available())
}

func TestWatchWalletCannotSign(t *testing.T) {
	t.Parallel()

	wallet := &WatchWallet{Pubkey: "CertusDeBmqN8ZawdkxK5kFGMwBXdudvWHYwtNgNhvLu"}
	require.True(t, wallet.Available())

	pubkey, err := wallet.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wallet.Pubkey, pubkey)

	_, err = wallet.SignTransaction(context.Background(), []byte("tx"))
	assert.ErrorIs(t, err, ErrSigningUnsupported)
	assert.False(t, (&WatchWallet{Pubkey: "not-a-key"}).Available())
}

func TestWalletRegistryDetectAndConnect(t *testing.T) {
	t.Parallel()

	path, pub := writeTestKeypair(t)
	registry := DefaultWalletRegistry(WalletConfig{
		KeypairPath: path,
		WatchPubkey: "CertusDeBmqN8ZawdkxK5kFGMwBXdudvWHYwtNgNhvLu",
	})
	assert.Equal(t, []string{WalletKeypair, WalletWatch}, registry.Detect())

	connector, pubkey, err := registry.Connect(context.Background(), WalletKeypair)
	require.NoError(t, err)
	assert.Equal(t, WalletKeypair, connector.Name())
	assert.Equal(t, base58.Encode(pub), pubkey)

	_, _, err = registry.Connect(context.Background(), "phantom")
	assert.ErrorIs(t, err, ErrUnknownWallet)

	empty := DefaultWalletRegistry(WalletConfig{})
	assert.Empty(t, empty.Detect())
	_, _, err = empty.Connect(context.Background(), WalletWatch)
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestWalletSessionPersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session", "wallet.json")
	_, err := LoadWalletSession(path)
	require.ErrorIs(t, err, ErrNotFound)

	session := WalletSession{WalletPubkey: "CertusDeBmqN8ZawdkxK5kFGMwBXdudvWHYwtNgNhvLu", WalletName: WalletWatch}
	require.NoError(t, SaveWalletSession(path, session))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"walletPubkey"`)
	assert.Contains(t, string(raw), `"walletName"`)

	loaded, err := LoadWalletSession(path)
	require.NoError(t, err)
	assert.Equal(t, session, loaded)

	require.NoError(t, ClearWalletSession(path))
	require.NoError(t, ClearWalletSession(path))
	_, err = LoadWalletSession(path)
	assert.ErrorIs(t, err, ErrNotFound)
}
