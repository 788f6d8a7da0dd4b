package worldmeta

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"
)

var ErrNoCurrentWorld = errors.New("no world selected")

// Saver receives metadata snapshots to persist in the background.
type Saver interface {
	Enqueue(worldID string, info Info)
}

// Manager is the in-memory catalogue of worlds. It is not safe for concurrent
// use; the session tick owns it.
type Manager struct {
	store   *Store
	saver   Saver
	logger  *log.Logger
	worlds  map[string]Info
	current string

	now func() time.Time
}

func NewManager(store *Store, saver Saver, logger *log.Logger) *Manager {
	return &Manager{
		store:  store,
		saver:  saver,
		logger: logger,
		worlds: map[string]Info{},
		now:    time.Now,
	}
}

func (m *Manager) Store() *Store { return m.store }

// SetSaver replaces the background saver.
func (m *Manager) SetSaver(s Saver) { m.saver = s }

// LoadWorlds replaces the catalogue with the worlds found on disk.
func (m *Manager) LoadWorlds() int {
	infos, errs := m.store.List()
	for _, err := range errs {
		m.printf("skip world: %v", err)
	}
	m.worlds = make(map[string]Info, len(infos))
	for _, info := range infos {
		m.worlds[info.Name] = info
	}
	if _, ok := m.worlds[m.current]; !ok {
		m.current = ""
	}
	m.printf("loaded %d world saves from %s", len(m.worlds), m.store.Root())
	return len(m.worlds)
}

// Worlds returns the catalogue, most recently played first.
func (m *Manager) Worlds() []Info {
	out := make([]Info, 0, len(m.worlds))
	for _, info := range m.worlds {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastPlayed.Equal(out[j].LastPlayed) {
			return out[i].LastPlayed.After(out[j].LastPlayed)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (m *Manager) Get(worldID string) (Info, bool) {
	info, ok := m.worlds[worldID]
	return info, ok
}

// CreateWorld writes the metadata of a new world synchronously.
func (m *Manager) CreateWorld(info Info) (Info, error) {
	info.applyDefaults(m.now())
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	if _, ok := m.worlds[info.Name]; ok || m.store.Exists(info.Name) {
		return Info{}, fmt.Errorf("%w: %s", ErrWorldExists, info.Name)
	}
	if err := m.store.WriteInfo(info); err != nil {
		return Info{}, fmt.Errorf("create world %s: %w", info.Name, err)
	}
	m.worlds[info.Name] = info
	m.printf("created world %s seed=%d mode=%s type=%s", info.Name, info.Seed, info.GameMode, info.WorldType)
	return info, nil
}

func (m *Manager) DeleteWorld(worldID string) error {
	if _, ok := m.worlds[worldID]; !ok {
		return fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	if err := m.store.Remove(worldID); err != nil {
		return fmt.Errorf("delete world %s: %w", worldID, err)
	}
	delete(m.worlds, worldID)
	if m.current == worldID {
		m.current = ""
	}
	m.printf("deleted world %s", worldID)
	return nil
}

func (m *Manager) SelectWorld(worldID string) error {
	if _, ok := m.worlds[worldID]; !ok {
		return fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	m.current = worldID
	return nil
}

func (m *Manager) Current() (Info, bool) {
	if m.current == "" {
		return Info{}, false
	}
	info, ok := m.worlds[m.current]
	return info, ok
}

// UpdateLastPlayed stamps the world in memory only.
func (m *Manager) UpdateLastPlayed(worldID string) (Info, error) {
	info, ok := m.worlds[worldID]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	info.LastPlayed = m.now().UTC()
	m.worlds[worldID] = info
	return info, nil
}

// RequestSave hands the current snapshot of a world to the saver.
func (m *Manager) RequestSave(worldID string) error {
	info, ok := m.worlds[worldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	if m.saver == nil {
		return fmt.Errorf("no saver configured")
	}
	m.saver.Enqueue(worldID, info)
	return nil
}

// TouchCurrent updates last_played of the selected world and requests a save.
func (m *Manager) TouchCurrent() (Info, error) {
	if m.current == "" {
		return Info{}, ErrNoCurrentWorld
	}
	info, err := m.UpdateLastPlayed(m.current)
	if err != nil {
		return Info{}, err
	}
	return info, m.RequestSave(m.current)
}

func (m *Manager) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
