// Package state persists what the CLI must remember between runs: the
// server session cookie and the selected recording, per server.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk layout.
type File struct {
	Servers map[string]Server `toml:"servers"`
}

// Server holds what is known about one API endpoint.
type Server struct {
	MagicToken string `toml:"magic_token,omitempty"`
	ActiveFile string `toml:"active_file,omitempty"`
}

// Manager loads and saves the state file. Safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	path string
	data File
}

// NewManager returns a manager for path; call Load before use.
func NewManager(path string) *Manager {
	return &Manager{path: path, data: File{Servers: map[string]Server{}}}
}

// Path returns the state file location.
func (m *Manager) Path() string { return m.path }

// Load reads the file; a missing or empty file is an empty state.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.data = File{Servers: map[string]Server{}}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %v", err)
	}

	var f File
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("failed to parse state file: %v", err)
		}
	}
	if f.Servers == nil {
		f.Servers = map[string]Server{}
	}
	m.data = f
	return nil
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %v", err)
	}

	// Drop servers with nothing left to remember.
	clean := File{Servers: map[string]Server{}}
	for k, s := range m.data.Servers {
		if s != (Server{}) {
			clean.Servers[k] = s
		}
	}

	data, err := toml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %v", err)
	}
	// The token identifies the user to the server.
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %v", err)
	}
	return nil
}

// Server returns the state for endpoint.
func (m *Manager) Server(endpoint string) Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Servers[endpoint]
}

// Update applies fn to the state of endpoint and saves.
func (m *Manager) Update(endpoint string, fn func(*Server)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.data.Servers[endpoint]
	fn(&s)
	m.data.Servers[endpoint] = s
	return m.saveLocked()
}

// For binds the manager to one endpoint.
func (m *Manager) For(endpoint string) *Scope {
	return &Scope{m: m, endpoint: endpoint}
}

// Scope is the state of one endpoint. It satisfies the token store the API
// client expects.
type Scope struct {
	m        *Manager
	endpoint string
}

func (s *Scope) Token() string { return s.m.Server(s.endpoint).MagicToken }

func (s *Scope) SetToken(token string) error {
	return s.m.Update(s.endpoint, func(sv *Server) { sv.MagicToken = token })
}

func (s *Scope) ActiveFile() string { return s.m.Server(s.endpoint).ActiveFile }

func (s *Scope) SetActiveFile(name string) error {
	return s.m.Update(s.endpoint, func(sv *Server) { sv.ActiveFile = name })
}
