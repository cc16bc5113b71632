// Package keystore provides the Key Store collaborator interface CA3's
// Signature Engine consumes (spec.md §6): Sign(payload) and
// Verify(payload, sig, peerName). It adapts the teacher's
// core/wallet.go HDWallet — BIP-39 mnemonic in, Ed25519 keys out — down to
// the single node keypair CA3 needs, and adds a peer public-key directory
// the teacher's wallet package never needed (a wallet signs for itself; a
// CA3 node must also verify peers).
package keystore

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
)

// KeyStore is the collaborator interface spec.md §6 names.
type KeyStore interface {
	// Sign returns the hex-encoded Ed25519 signature over payload using
	// this node's private key. Returns ErrKeyMissing if no local key is
	// configured.
	Sign(payload []byte) (string, error)

	// Verify checks sigHex against payload using peerName's known public
	// key. Returns (false, err) if peerName's key is unknown.
	Verify(payload []byte, sigHex, peerName string) (bool, error)

	// Self returns this node's own name, as recorded in SignedBy.
	Self() string
}

// ErrKeyMissing is returned by Sign when no local private key is loaded.
var ErrKeyMissing = errors.New("keystore: local signing key missing")

// Store is the reference KeyStore: one local Ed25519 keypair plus a
// directory of peer public keys, following the teacher's
// SetWalletLogger/globalLogger pattern for injectable logging.
type Store struct {
	mu    sync.RWMutex
	self  string
	priv  ed25519.PrivateKey // nil means "key missing" (Sign returns ErrKeyMissing)
	peers map[string]ed25519.PublicKey
	log   *logrus.Logger
}

// New returns an empty Store for node self. Call LoadMnemonic or
// GenerateLocalKey to give it a signing key, and AddPeerKey to populate
// the verification directory.
func New(self string, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{self: self, peers: make(map[string]ed25519.PublicKey), log: log}
}

// GenerateLocalKey derives a fresh Ed25519 keypair for this node from
// entropyBits of randomness via a BIP-39 mnemonic, mirroring
// core/wallet.go's NewRandomWallet. Returns the mnemonic so operators can
// back it up; it is never stored.
func (s *Store) GenerateLocalKey(entropyBits int) (mnemonic string, pub ed25519.PublicKey, err error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", nil, fmt.Errorf("keystore: entropy: %w", err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("keystore: mnemonic: %w", err)
	}
	return mnemonic, s.mustLoadMnemonic(mnemonic)
}

// LoadMnemonic derives this node's Ed25519 keypair from an existing BIP-39
// mnemonic (the same derivation GenerateLocalKey uses), for operators
// restoring a node's identity.
func (s *Store) LoadMnemonic(mnemonic string) (ed25519.PublicKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("keystore: invalid mnemonic checksum")
	}
	return s.mustLoadMnemonic(mnemonic)
}

func (s *Store) mustLoadMnemonic(mnemonic string) (ed25519.PublicKey, error) {
	seed := bip39.NewSeed(mnemonic, "")
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("keystore: seed too short: %d bytes", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()
	pub := priv.Public().(ed25519.PublicKey)
	s.log.WithField("node", s.self).Info("loaded node signing key")
	return pub, nil
}

// GenerateEphemeralKey makes a throwaway Ed25519 keypair without going
// through BIP-39 — used by tests that don't care about mnemonic recovery.
func (s *Store) GenerateEphemeralKey() (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()
	return pub, nil
}

// AddPeerKey registers peerName's public key for later Verify calls.
func (s *Store) AddPeerKey(peerName string, pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peerName] = pub
}

func (s *Store) Self() string { return s.self }

func (s *Store) Sign(payload []byte) (string, error) {
	s.mu.RLock()
	priv := s.priv
	s.mu.RUnlock()
	if priv == nil {
		return "", ErrKeyMissing
	}
	sig := ed25519.Sign(priv, payload)
	return hex.EncodeToString(sig), nil
}

func (s *Store) Verify(payload []byte, sigHex, peerName string) (bool, error) {
	s.mu.RLock()
	pub, ok := s.peers[peerName]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("keystore: unknown peer %q", peerName)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("keystore: malformed signature hex: %w", err)
	}
	return ed25519.Verify(pub, payload, sig), nil
}

var _ KeyStore = (*Store)(nil)
