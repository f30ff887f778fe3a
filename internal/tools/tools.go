// Package tools coordinates map tools.
//
// The Manager is the single owner of the active modal tool. A modal tool
// takes over pointer and keyboard interaction while it is active, so at most
// one modal tool is active at any observable instant. Non-modal tools (zoom
// inputs, scale bars) can be switched on and off independently and never
// touch the store's activeTool field.
//
// Tools must not activate themselves. A tool that wants to stop asks the
// manager to Deactivate it; inside its own Deactivate hook it can call
// CalledByManager to tell a manager-driven shutdown from one it started.
package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/state"
)

var (
	// ErrUnknownTool is returned for ids that were never registered.
	ErrUnknownTool = errors.New("tools: unknown tool")
	// ErrDuplicateTool is returned when an id is registered twice.
	ErrDuplicateTool = errors.New("tools: duplicate tool id")
	// ErrReentrant is returned when a tool hook calls back into Activate.
	ErrReentrant = errors.New("tools: activation from inside a tool hook")
)

// Tool is implemented by everything the manager can switch.
type Tool interface {
	ID() string
	Modal() bool
	Activate()
	Deactivate()
}

// ChangeKind tells listeners what happened to a tool.
type ChangeKind string

const (
	Activated   ChangeKind = "activated"
	Deactivated ChangeKind = "deactivated"
)

// Change is delivered to OnChange listeners.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	ToolID string     `json:"toolId"`
}

// Manager tracks registered tools and which of them are active.
type Manager struct {
	mu     sync.Mutex
	store  *state.Store
	logger *slog.Logger

	tools  map[string]Tool
	active string
	on     map[string]bool

	// hook is the id whose Activate or Deactivate hook is running.
	hook        string
	hookRunning bool

	listeners map[uint64]func(Change)
	nextID    uint64
}

// NewManager creates a manager publishing the active modal tool to store.
// store may be nil in tests.
func NewManager(store *state.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		logger:    logger,
		tools:     make(map[string]Tool),
		on:        make(map[string]bool),
		listeners: make(map[uint64]func(Change)),
	}
}

// Register adds t. Ids must be unique.
func (m *Manager) Register(t Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := t.ID()
	if _, ok := m.tools[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, id)
	}
	m.tools[id] = t
	return nil
}

// Unregister deactivates id if needed and forgets it.
func (m *Manager) Unregister(id string) {
	if m.IsActive(id) {
		m.Deactivate(id)
	}
	m.mu.Lock()
	delete(m.tools, id)
	m.mu.Unlock()
}

// IDs returns the registered tool ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tool returns the registered tool with id.
func (m *Manager) Tool(id string) (Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[id]
	return t, ok
}

// ActiveID returns the active modal tool id, or "".
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// IsActive reports whether id is switched on.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (id != "" && m.active == id) || m.on[id]
}

// CalledByManager reports whether the manager is currently running id's
// Activate or Deactivate hook.
func (m *Manager) CalledByManager(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hookRunning && m.hook == id
}

// OnChange registers fn for activation changes. It returns an unsubscribe
// function.
func (m *Manager) OnChange(fn func(Change)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Activate switches id on. Activating the active tool is a no-op. A
// different active modal tool is fully deactivated, with its Deactivated
// change delivered, before id's hook runs.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	if m.hookRunning {
		caller := m.hook
		m.mu.Unlock()
		m.logger.Warn("rejected activation from tool hook",
			"component", "tools", "op", "activate", "tool", id, "hook", caller)
		return fmt.Errorf("%w: %q during hook of %q", ErrReentrant, id, caller)
	}
	t, ok := m.tools[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("activate unknown tool", "component", "tools", "op", "activate", "tool", id)
		return fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	if !t.Modal() {
		if m.on[id] {
			m.mu.Unlock()
			return nil
		}
		m.on[id] = true
		m.mu.Unlock()
		m.runHook(id, t.Activate)
		m.notify(Change{Kind: Activated, ToolID: id})
		return nil
	}
	if m.active == id {
		m.mu.Unlock()
		return nil
	}
	previous := m.active
	m.mu.Unlock()

	if previous != "" {
		m.deactivateModal(previous)
	}

	m.mu.Lock()
	m.active = id
	m.mu.Unlock()

	m.runHook(id, t.Activate)
	m.publish(&id)
	m.notify(Change{Kind: Activated, ToolID: id})
	return nil
}

// Deactivate switches off the given tool, or the active modal tool when no
// id is given. Deactivating an inactive tool is a no-op.
func (m *Manager) Deactivate(id ...string) {
	m.mu.Lock()
	target := m.active
	if len(id) > 0 {
		target = id[0]
	}
	if target == "" {
		m.mu.Unlock()
		return
	}
	if m.on[target] {
		t := m.tools[target]
		delete(m.on, target)
		m.mu.Unlock()
		if t != nil {
			m.runHook(target, t.Deactivate)
		}
		m.notify(Change{Kind: Deactivated, ToolID: target})
		return
	}
	isActive := target == m.active
	m.mu.Unlock()
	if isActive {
		m.deactivateModal(target)
	}
}

// Toggle deactivates id when it is on and activates it otherwise.
func (m *Manager) Toggle(id string) error {
	if m.IsActive(id) {
		m.Deactivate(id)
		return nil
	}
	return m.Activate(id)
}

// deactivateModal clears the active id before the tool's hook runs.
func (m *Manager) deactivateModal(id string) {
	m.mu.Lock()
	if m.active != id {
		m.mu.Unlock()
		return
	}
	m.active = ""
	t := m.tools[id]
	m.mu.Unlock()

	if t != nil {
		m.runHook(id, t.Deactivate)
	}
	m.publish(nil)
	m.notify(Change{Kind: Deactivated, ToolID: id})
}

func (m *Manager) runHook(id string, fn func()) {
	m.mu.Lock()
	prevHook, prevRunning := m.hook, m.hookRunning
	m.hook, m.hookRunning = id, true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.hook, m.hookRunning = prevHook, prevRunning
		m.mu.Unlock()
		if r := recover(); r != nil {
			m.logger.Error("tool hook panicked",
				"component", "tools", "op", "hook", "tool", id, "panic", r)
		}
	}()
	fn()
}

func (m *Manager) publish(id *string) {
	if m.store == nil {
		return
	}
	m.store.Dispatch(state.Patch{}.SetActiveTool(id), state.SourceUI)
}

func (m *Manager) notify(c Change) {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		m.callListener(fn, c)
	}
}

func (m *Manager) callListener(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tool change listener panicked",
				"component", "tools", "op", "notify", "tool", c.ToolID, "panic", r)
		}
	}()
	fn(c)
}
