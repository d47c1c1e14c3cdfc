// Package keys derives per-customer encryption keys from the service master
// key and seals small blobs with them.
package keys

import (
	"container/list"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DefaultCacheSize bounds the number of derived keys kept in memory
const DefaultCacheSize = 1024

// ErrEmptyCustomer is returned when a key is requested without a customer id
var ErrEmptyCustomer = errors.New("customer id is required")

// Provider returns the data key of a customer
type Provider interface {
	Key(ctx context.Context, customerID string) ([]byte, error)
}

// HKDFProvider derives keys with HKDF-SHA256 and caches them with LRU eviction
type HKDFProvider struct {
	master []byte
	max    int

	mu    sync.Mutex
	order *list.List
	cache map[string]*list.Element
}

type cacheEntry struct {
	customerID string
	key        []byte
}

// NewHKDFProvider creates a provider over master. maxEntries <= 0 uses DefaultCacheSize.
func NewHKDFProvider(master string, maxEntries int) (*HKDFProvider, error) {
	if master == "" {
		return nil, errors.New("master key is required")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &HKDFProvider{
		master: []byte(master),
		max:    maxEntries,
		order:  list.New(),
		cache:  make(map[string]*list.Element),
	}, nil
}

func (p *HKDFProvider) Key(ctx context.Context, customerID string) ([]byte, error) {
	if customerID == "" {
		return nil, ErrEmptyCustomer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.cache[customerID]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*cacheEntry).key, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, p.master, nil, []byte("fintera-sign/customer/"+customerID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	p.cache[customerID] = p.order.PushFront(&cacheEntry{customerID: customerID, key: key})
	for p.order.Len() > p.max {
		oldest := p.order.Back()
		p.order.Remove(oldest)
		delete(p.cache, oldest.Value.(*cacheEntry).customerID)
	}
	return key, nil
}

// Len returns the number of cached keys
func (p *HKDFProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The nonce is prepended.
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a blob produced by Seal
func Open(key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, additionalData)
}
