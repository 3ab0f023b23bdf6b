package core

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MountRecord is one mount of a backend.
type MountRecord struct {
	Session   uuid.UUID  `json:"session"`
	URL       string     `json:"url"`
	Mounted   time.Time  `json:"mounted"`
	Unmounted *time.Time `json:"unmounted,omitempty"`
}

type HistoryManager struct {
	// Session -> record
	Mounts map[uuid.UUID]*MountRecord `json:"mounts"`
	Path   string
	mu     sync.RWMutex
	dirty  bool
}

func NewHistoryManager(path string) *HistoryManager {
	return &HistoryManager{
		Mounts: make(map[uuid.UUID]*MountRecord),
		Path:   path,
	}
}

func (hm *HistoryManager) Load() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	data, err := os.ReadFile(hm.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &hm.Mounts)
}

// Save writes the history if it changed since the last save.
func (hm *HistoryManager) Save() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if !hm.dirty {
		return nil
	}
	data, err := json.MarshalIndent(hm.Mounts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(hm.Path, data, 0644); err != nil {
		return err
	}
	hm.dirty = false
	return nil
}

func (hm *HistoryManager) Mounted(session uuid.UUID, url string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.Mounts[session] = &MountRecord{Session: session, URL: url, Mounted: time.Now()}
	hm.dirty = true
}

func (hm *HistoryManager) Unmounted(session uuid.UUID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	rec, ok := hm.Mounts[session]
	if !ok || rec.Unmounted != nil {
		return
	}
	now := time.Now()
	rec.Unmounted = &now
	hm.dirty = true
}

func (hm *HistoryManager) Get(session uuid.UUID) (MountRecord, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	rec, ok := hm.Mounts[session]
	if !ok {
		return MountRecord{}, false
	}
	return *rec, true
}

func (hm *HistoryManager) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.Mounts)
}
