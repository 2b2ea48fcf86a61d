package storage

import (
	"context"
	"fmt"

	"github.com/felipepmaragno/llm-cost-audit/internal/crypto"
)

// EncryptedStore seals objects before handing them to the wrapped store.
// Each object is bound to its key.
type EncryptedStore struct {
	next Store
	enc  *crypto.Encryptor
}

// NewEncryptedStore seals objects with enc before they reach next, bound
// to their key.
func NewEncryptedStore(next Store, enc *crypto.Encryptor) *EncryptedStore {
	return &EncryptedStore{next: next, enc: enc}
}

func (s *EncryptedStore) Write(ctx context.Context, key string, data []byte) error {
	sealed, err := s.enc.Seal(data, []byte(key))
	if err != nil {
		return fmt.Errorf("seal object: %w", err)
	}
	return s.next.Write(ctx, key, sealed)
}

func (s *EncryptedStore) Read(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.next.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	data, err := s.enc.Open(sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return data, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}

func (s *EncryptedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.next.Exists(ctx, key)
}
