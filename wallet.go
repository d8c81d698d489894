package nodescan

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mr-tron/base58"
)

// Wallet identifiers of the built-in connectors.
const (
	WalletKeypair = "keypair"
	WalletWatch   = "watch"
)

var (
	// ErrSigningUnsupported is returned by connectors that cannot sign.
	ErrSigningUnsupported = errors.New("wallet cannot sign transactions")
	// ErrWalletUnavailable is returned when a connector cannot be used here.
	ErrWalletUnavailable = errors.New("wallet unavailable")
	// ErrUnknownWallet is returned for identifiers missing from the registry.
	ErrUnknownWallet = errors.New("unknown wallet")
	// ErrWalletNotConnected is returned when signing before Connect.
	ErrWalletNotConnected = errors.New("wallet not connected")
)

// WalletConnector is a source of a user public key and, optionally, of
// transaction signatures.
type WalletConnector interface {
	Name() string
	Available() bool
	Connect(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, message []byte) ([]byte, error)
}

// WalletFactory builds a connector.
type WalletFactory func() WalletConnector

// WalletRegistry maps wallet identifiers to connector factories and keeps
// registration order for detection.
type WalletRegistry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]WalletFactory
}

// NewWalletRegistry returns an empty registry.
func NewWalletRegistry() *WalletRegistry {
	return &WalletRegistry{factories: make(map[string]WalletFactory)}
}

// DefaultWalletRegistry registers the keypair and watch-only connectors.
func DefaultWalletRegistry(cfg WalletConfig) *WalletRegistry {
	r := NewWalletRegistry()
	r.Register(WalletKeypair, func() WalletConnector { return &KeypairWallet{Path: cfg.KeypairPath} })
	r.Register(WalletWatch, func() WalletConnector { return &WatchWallet{Pubkey: cfg.WatchPubkey} })
	return r
}

// Register adds or replaces a factory.
func (r *WalletRegistry) Register(id string, factory WalletFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; !exists {
		r.order = append(r.order, id)
	}
	r.factories[id] = factory
}

// Detect lists the identifiers of connectors usable right now.
func (r *WalletRegistry) Detect() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if r.factories[id]().Available() {
			out = append(out, id)
		}
	}
	return out
}

// Connect builds the connector registered as id and connects it.
func (r *WalletRegistry) Connect(ctx context.Context, id string) (WalletConnector, string, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownWallet, id)
	}
	connector := factory()
	if !connector.Available() {
		return nil, "", fmt.Errorf("%s: %w", id, ErrWalletUnavailable)
	}
	pubkey, err := connector.Connect(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("connect %s: %w", id, err)
	}
	return connector, pubkey, nil
}

// KeypairWallet signs with a Solana CLI keypair file (a JSON array of the 64
// secret key bytes).
type KeypairWallet struct {
	Path string

	mu  sync.Mutex
	key ed25519.PrivateKey
}

func (w *KeypairWallet) Name() string { return WalletKeypair }

func (w *KeypairWallet) Available() bool {
	if w.Path == "" {
		return false
	}
	info, err := os.Stat(w.Path)
	return err == nil && !info.IsDir()
}

func (w *KeypairWallet) Connect(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := readKeypair(w.Path)
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	w.key = key
	w.mu.Unlock()
	return base58.Encode(key.Public().(ed25519.PublicKey)), nil
}

func (w *KeypairWallet) Disconnect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.key {
		w.key[i] = 0
	}
	w.key = nil
	return nil
}

func (w *KeypairWallet) SignTransaction(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return nil, ErrWalletNotConnected
	}
	return ed25519.Sign(w.key, message), nil
}

func readKeypair(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode keypair: %w", err)
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair has %d bytes, want %d", len(values), ed25519.PrivateKeySize)
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair byte %d out of range", i)
		}
		key[i] = byte(v)
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !derived.Equal(key) {
		return nil, errors.New("keypair public key does not match secret key")
	}
	return key, nil
}

// WatchWallet exposes a fixed public key and never signs.
type WatchWallet struct {
	Pubkey string
}

func (w *WatchWallet) Name() string { return WalletWatch }

func (w *WatchWallet) Available() bool { return ValidateVotePubkey(w.Pubkey) }

func (w *WatchWallet) Connect(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !w.Available() {
		return "", ErrInvalidPubkey
	}
	return w.Pubkey, nil
}

func (w *WatchWallet) Disconnect(context.Context) error { return nil }

func (w *WatchWallet) SignTransaction(context.Context, []byte) ([]byte, error) {
	return nil, ErrSigningUnsupported
}

// WalletSession remembers the connected wallet between runs.
type WalletSession struct {
	WalletPubkey string `json:"walletPubkey"`
	WalletName   string `json:"walletName"`
}

// LoadWalletSession reads the session file. A missing file is ErrNotFound.
func LoadWalletSession(path string) (WalletSession, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return WalletSession{}, ErrNotFound
	}
	if err != nil {
		return WalletSession{}, fmt.Errorf("read wallet session: %w", err)
	}
	var session WalletSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return WalletSession{}, fmt.Errorf("decode wallet session: %w", err)
	}
	if session.WalletPubkey == "" {
		return WalletSession{}, ErrNotFound
	}
	return session, nil
}

// SaveWalletSession writes the session file atomically.
func SaveWalletSession(path string, session WalletSession) error {
	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet session: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wallet-session-*")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// ClearWalletSession removes the session file if present.
func ClearWalletSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove wallet session: %w", err)
	}
	return nil
}
