package cart

import (
	"encoding/json"
	"strings"
	"sync"

	"finitefield.org/pcshop/internal/domain"
)

// LocalCartKey is the browser-storage key that holds the guest cart blob.
const LocalCartKey = "pcshop_cart"

// LocalStorage is browser-scoped key/value storage for the guest cart.
type LocalStorage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStorage is an in-process LocalStorage for tests and tooling.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// DecodeBlob parses a stored guest cart. Malformed content yields an empty cart along
// with the parse error so callers can log it. Lines are re-merged so duplicate product
// ids collapse into one line.
func DecodeBlob(raw string) (domain.Lines, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Lines{}, nil
	}
	var items []domain.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return domain.Lines{}, err
	}
	lines := domain.Lines{}
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 {
			continue
		}
		lines = lines.Add(item)
	}
	return lines, nil
}

// EncodeBlob serialises lines as a JSON array.
func EncodeBlob(lines domain.Lines) (string, error) {
	if lines == nil {
		lines = domain.Lines{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func loadLocal(storage LocalStorage) (domain.Lines, error) {
	if storage == nil {
		return domain.Lines{}, nil
	}
	raw, ok := storage.Get(LocalCartKey)
	if !ok {
		return domain.Lines{}, nil
	}
	return DecodeBlob(raw)
}

func saveLocal(storage LocalStorage, lines domain.Lines) error {
	if storage == nil {
		return nil
	}
	if len(lines) == 0 {
		return storage.Remove(LocalCartKey)
	}
	blob, err := EncodeBlob(lines)
	if err != nil {
		return err
	}
	return storage.Set(LocalCartKey, blob)
}
