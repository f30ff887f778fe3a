// Package layers turns catalog layers into native engine sources and layers.
//
// A Synthesizer owns the logical to native id mapping for one engine. Native
// sources are reference counted by the native layers that use them, so a
// source shared by several logical layers is created once and removed with
// its last layer.
package layers

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/state"
)

var (
	// ErrSourceNotRegistered is returned when a layer references a source
	// that was never added. The add is a no-op.
	ErrSourceNotRegistered = errors.New("layers: source not registered")
	// ErrSourceInUse is returned when removing or replacing a source that
	// live layers still reference.
	ErrSourceInUse = errors.New("layers: source in use")
	// ErrNativeIDTaken is returned when a native layer id is already owned
	// by another style layer, for example logical "a" with style "b-c" and
	// logical "a-b" with style "c".
	ErrNativeIDTaken = errors.New("layers: native layer id taken")
)

// NativeLayer is one native layer derived from a style layer.
type NativeLayer struct {
	ID       string
	SourceID string
	Logical  string
	Source   catalog.Source
	Style    catalog.StyleLayer
}

// Target is the native layer surface of one engine. Implementations must
// not call back into the Synthesizer.
type Target interface {
	AddNativeSource(id string, src catalog.Source) error
	RemoveNativeSource(id string) error
	HasNativeSource(id string) bool
	// AddNativeLayer creates the layer with paint evaluated at zoom.
	AddNativeLayer(l NativeLayer, zoom float64) error
	RemoveNativeLayer(id string) error
	HasNativeLayer(id string) bool
	// Restyle re-evaluates zoom-dependent paint. Engines that evaluate zoom
	// functions natively may treat it as a no-op.
	Restyle(l NativeLayer, zoom float64) error
}

// NativeSourceID maps a catalog source id to its native id.
func NativeSourceID(id string) string { return "src-" + id }

// NativeLayerID maps style layer i of a logical layer to its native id.
func NativeLayerID(logical string, i int, sl catalog.StyleLayer) string {
	if sl.ID != "" {
		return logical + "-" + sl.ID
	}
	return logical + "-" + strconv.Itoa(i)
}

// Synthesizer implements engine.LayerService over a Target.
type Synthesizer struct {
	target Target
	store  *state.Store
	logger *slog.Logger

	mu      sync.Mutex
	sources map[string]catalog.Source
	refs    map[string]int
	layers  map[string][]NativeLayer
	owners  map[string]string
	order   []string
	zoom    float64
}

var _ engine.LayerService = (*Synthesizer)(nil)

// New creates a Synthesizer. store may be nil; when set, the list of added
// logical layers is published as visibleLayers.
func New(target Target, store *state.Store, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{
		target:  target,
		store:   store,
		logger:  logger.With("component", "layers"),
		sources: make(map[string]catalog.Source),
		refs:    make(map[string]int),
		layers:  make(map[string][]NativeLayer),
		owners:  make(map[string]string),
	}
	s.zoom, _ = s.storeZoom()
	return s
}

func (s *Synthesizer) storeZoom() (float64, bool) {
	if s.store == nil {
		return 0, false
	}
	return s.store.State().Zoom()
}

// AddSource registers a catalog source. Registering the same id again
// replaces it unless live layers use it.
func (s *Synthesizer) AddSource(src catalog.Source) error {
	if src.ID == "" {
		return errors.New("add source: empty id")
	}
	if !src.Type.Known() {
		return fmt.Errorf("add source %q: unknown type %q", src.ID, src.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sources[src.ID]; ok && s.refs[NativeSourceID(src.ID)] > 0 {
		if reflect.DeepEqual(old, src) {
			s.logger.Debug("source already registered", "op", "add_source", "source", src.ID)
			return nil
		}
		return fmt.Errorf("add source %q: %w", src.ID, ErrSourceInUse)
	}
	s.sources[src.ID] = src
	return nil
}

// RemoveSource unregisters a source. It fails while layers use it; an
// unknown id is logged and ignored.
func (s *Synthesizer) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		s.logger.Debug("remove of unknown source", "op", "remove_source", "source", id)
		return nil
	}
	if s.refs[NativeSourceID(id)] > 0 {
		return fmt.Errorf("remove source %q: %w", id, ErrSourceInUse)
	}
	delete(s.sources, id)
	return nil
}

// Source returns a registered source.
func (s *Synthesizer) Source(id string) (catalog.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	return src, ok
}

// AddLayer creates the native sources and layers of l. Adding an id that
// is already present is a no-op. When a referenced source is not
// registered nothing is created and ErrSourceNotRegistered is returned.
func (s *Synthesizer) AddLayer(l catalog.Layer) error {
	if l.ID == "" {
		return errors.New("add layer: empty id")
	}

	zoom, known := s.storeZoom()
	s.mu.Lock()
	if known {
		s.zoom = zoom
	}
	if _, ok := s.layers[l.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("layer already added", "op", "add_layer", "layer", l.ID)
		return nil
	}
	for _, sl := range l.Layerset {
		if _, ok := s.sources[sl.Source]; !ok {
			s.mu.Unlock()
			s.logger.Warn("layer references unregistered source", "op", "add_layer", "layer", l.ID, "source", sl.Source)
			return fmt.Errorf("add layer %q: %w: %q", l.ID, ErrSourceNotRegistered, sl.Source)
		}
	}

	var added []NativeLayer
	for i, sl := range l.Layerset {
		nl := NativeLayer{
			ID:       NativeLayerID(l.ID, i, sl),
			SourceID: NativeSourceID(sl.Source),
			Logical:  l.ID,
			Source:   s.sources[sl.Source],
			Style:    sl,
		}
		if err := s.addNativeLocked(nl); err != nil {
			for j := len(added) - 1; j >= 0; j-- {
				s.removeNativeLocked(added[j])
			}
			s.mu.Unlock()
			s.logger.Error("native layer add failed", "op", "add_layer", "layer", l.ID, "native", nl.ID, "error", err)
			return fmt.Errorf("add layer %q: %w", l.ID, err)
		}
		added = append(added, nl)
	}
	s.layers[l.ID] = added
	s.order = append(s.order, l.ID)
	visible := slices.Clone(s.order)
	s.mu.Unlock()

	s.publish(visible)
	return nil
}

func (s *Synthesizer) addNativeLocked(nl NativeLayer) error {
	if owner, ok := s.owners[nl.ID]; ok {
		return fmt.Errorf("%w: %q belongs to layer %q", ErrNativeIDTaken, nl.ID, owner)
	}
	if s.refs[nl.SourceID] == 0 && !s.target.HasNativeSource(nl.SourceID) {
		if err := s.target.AddNativeSource(nl.SourceID, nl.Source); err != nil {
			return err
		}
	}
	s.refs[nl.SourceID]++
	if !s.target.HasNativeLayer(nl.ID) {
		if err := s.target.AddNativeLayer(nl, s.zoom); err != nil {
			s.releaseSourceLocked(nl.SourceID)
			return err
		}
	}
	s.owners[nl.ID] = nl.Logical
	return nil
}

// RemoveLayer removes the native layers of a logical layer and any native
// source no other layer uses. Unknown ids are logged and ignored.
func (s *Synthesizer) RemoveLayer(id string) error {
	s.mu.Lock()
	natives, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("remove of unknown layer", "op", "remove_layer", "layer", id)
		return nil
	}
	for i := len(natives) - 1; i >= 0; i-- {
		s.removeNativeLocked(natives[i])
	}
	delete(s.layers, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	visible := slices.Clone(s.order)
	s.mu.Unlock()

	s.publish(visible)
	return nil
}

func (s *Synthesizer) removeNativeLocked(nl NativeLayer) {
	delete(s.owners, nl.ID)
	if s.target.HasNativeLayer(nl.ID) {
		if err := s.target.RemoveNativeLayer(nl.ID); err != nil {
			s.logger.Warn("native layer remove failed", "op", "remove_layer", "native", nl.ID, "error", err)
		}
	} else {
		s.logger.Debug("native layer already gone", "op", "remove_layer", "native", nl.ID)
	}
	s.releaseSourceLocked(nl.SourceID)
}

func (s *Synthesizer) releaseSourceLocked(id string) {
	s.refs[id]--
	if s.refs[id] > 0 {
		return
	}
	delete(s.refs, id)
	if !s.target.HasNativeSource(id) {
		return
	}
	if err := s.target.RemoveNativeSource(id); err != nil {
		s.logger.Warn("native source remove failed", "op", "remove_source", "native", id, "error", err)
	}
}

// HasLayer reports whether a logical layer is present.
func (s *Synthesizer) HasLayer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.layers[id]
	return ok
}

// Visible returns the present logical layers in the order they were added.
func (s *Synthesizer) Visible() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// NativeLayers returns the native layer ids of a logical layer.
func (s *Synthesizer) NativeLayers(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, nl := range s.layers[id] {
		ids = append(ids, nl.ID)
	}
	return ids
}

// SourceRefs returns the reference count of a native source.
func (s *Synthesizer) SourceRefs(nativeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[nativeID]
}

// Restyle re-evaluates zoom-dependent paint at the canonical zoom. It is
// wired to the engine's zoom-end notification.
func (s *Synthesizer) Restyle(zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = zoom
	for _, id := range s.order {
		for _, nl := range s.layers[id] {
			if !catalog.ZoomDependent(nl.Style.Paint) {
				continue
			}
			if err := s.target.Restyle(nl, zoom); err != nil {
				s.logger.Warn("restyle failed", "op", "restyle", "native", nl.ID, "error", err)
			}
		}
	}
}

// Clear removes every logical layer.
func (s *Synthesizer) Clear() {
	for _, id := range s.Visible() {
		_ = s.RemoveLayer(id)
	}
}

func (s *Synthesizer) publish(visible []string) {
	if s.store == nil {
		return
	}
	if visible == nil {
		visible = []string{}
	}
	s.store.Dispatch(state.Patch{}.SetVisibleLayers(visible), state.SourceMap)
}
