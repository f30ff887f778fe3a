package host

import (
	"context"
	"fmt"
	"slices"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
	"github.com/MeKo-Tech/mapbridge/internal/worker"
)

// listen wires the host request events.
func (m *Map) listen() {
	m.subs.Add(
		m.events.On(TypeToolActivate, func(e event.Event) {
			req := e.(ToolActivate)
			mgr := m.Tools()
			if mgr == nil {
				m.logger.Warn("tool request without adapter", "op", "tool_activate", "tool", req.ToolID)
				return
			}
			if err := mgr.Activate(req.ToolID); err != nil {
				m.logger.Warn("tool activation failed", "op", "tool_activate", "tool", req.ToolID, "error", err)
			}
		}),
		m.events.On(TypeToolDeactivate, func(e event.Event) {
			req := e.(ToolDeactivate)
			mgr := m.Tools()
			if mgr == nil {
				return
			}
			if req.ToolID == "" {
				mgr.Deactivate()
				return
			}
			mgr.Deactivate(req.ToolID)
		}),
		m.events.On(TypeLayerAddRequest, func(e event.Event) {
			if err := m.AddLayer(e.(LayerAddRequest)); err != nil {
				m.logger.Warn("layer add request failed", "op", "layer_add", "error", err)
			}
		}),
		m.events.On(TypeLayerRemoveRequest, func(e event.Event) {
			if err := m.RemoveLayer(e.(LayerRemoveRequest).LayerID); err != nil {
				m.logger.Warn("layer remove request failed", "op", "layer_remove", "error", err)
			}
		}),
		m.events.On(TypeSourceBusySuppression, func(e event.Event) {
			req := e.(SourceBusySuppression)
			a := m.Adapter()
			if a == nil {
				m.logger.Warn("busy suppression without adapter", "op", "busy_suppression", "source", req.SourceID)
				return
			}
			id := layers.NativeSourceID(req.SourceID)
			if req.Suppress {
				a.Core().SuppressBusySignalForSource(id)
			} else {
				a.Core().UnsuppressBusySignalForSource(id)
			}
		}),
	)
}

// remote reports whether a source is loaded by the host before use.
func remote(s catalog.Source) bool {
	return s.Type == catalog.KindGeoJSON && s.URL != "" && s.Data == nil
}

// applyCatalog registers the sources of the shown layers and adds the
// layers. Layers that need a remote GeoJSON source wait for its fetch.
func (m *Map) applyCatalog(ctx context.Context, gen uint64, a engine.Adapter) {
	_, warnings := catalog.Validate(m.doc.Catalog, "catalog")

	m.mu.Lock()
	shown := slices.Clone(m.shown)
	m.warnings = warnings
	m.deferred = make(map[string]map[string]bool)
	m.mu.Unlock()

	var (
		added   []string
		pending []string
		fetch   = make(map[string]catalog.Source)
	)
	for _, id := range shown {
		l, sources, ok := m.lookupLayer(id)
		if !ok {
			m.logger.Warn("shown layer missing from catalog", "op", "apply_catalog", "layer", id)
			continue
		}
		waiting := m.registerSources(a, sources, fetch)
		if len(waiting) > 0 {
			m.mu.Lock()
			m.deferred[id] = waiting
			m.mu.Unlock()
			pending = append(pending, id)
			continue
		}
		if err := a.Layers().AddLayer(l); err != nil {
			m.logger.Warn("layer not added", "op", "apply_catalog", "layer", id, "error", err)
			continue
		}
		added = append(added, id)
	}

	m.events.Emit(ConfigReady{Layers: added, Pending: pending, Warnings: warnings})

	if len(fetch) > 0 {
		m.fetchSources(ctx, gen, a, fetch)
	}
}

// lookupLayer finds a layer and the sources it needs, from the catalog or
// from an earlier ad hoc request.
func (m *Map) lookupLayer(id string) (catalog.Layer, []catalog.Source, bool) {
	m.mu.Lock()
	req, adhoc := m.adhoc[id]
	m.mu.Unlock()
	var (
		l       catalog.Layer
		sources []catalog.Source
	)
	if adhoc {
		l, sources = *req.Layer, req.Sources
	} else {
		var ok bool
		if l, ok = m.doc.Catalog.Layer(id); !ok {
			return catalog.Layer{}, nil, false
		}
	}
	for _, sid := range l.Sources() {
		if slices.ContainsFunc(sources, func(s catalog.Source) bool { return s.ID == sid }) {
			continue
		}
		if s, ok := m.doc.Catalog.Source(sid); ok {
			sources = append(sources, s)
		}
	}
	return l, sources, true
}

// registerSources adds sources to the synthesizer and returns the remote
// ones that still have to be fetched. Those are collected into fetch.
func (m *Map) registerSources(a engine.Adapter, sources []catalog.Source, fetch map[string]catalog.Source) map[string]bool {
	waiting := make(map[string]bool)
	for _, s := range sources {
		if remote(s) {
			m.mu.Lock()
			loaded, ok := m.fetched[s.ID]
			m.mu.Unlock()
			if !ok {
				waiting[s.ID] = true
				fetch[s.ID] = s
				continue
			}
			s = loaded
		}
		if _, ok := a.Layers().Source(s.ID); ok {
			continue
		}
		if err := a.Layers().AddSource(s); err != nil {
			m.logger.Warn("source not registered", "op", "register_source", "source", s.ID, "error", err)
		}
	}
	return waiting
}

func (m *Map) stopFetches() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	// wait out a result being applied right now
	m.applyMu.Lock()
	m.applyMu.Unlock()
}

// fetchSources loads remote GeoJSON sources on the worker pool and adds
// the layers waiting on them as results arrive.
func (m *Map) fetchSources(ctx context.Context, gen uint64, a engine.Adapter, sources map[string]catalog.Source) {
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if m.gen != gen || m.detached {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	tasks := make([]worker.Task, 0, len(sources))
	for _, id := range sortedKeys(sources) {
		tasks = append(tasks, worker.Task{SourceID: id, URL: sources[id].URL})
	}
	pool := worker.New(worker.Config{Workers: m.opts.FetchWorkers, Fetcher: m.opts.Fetcher, OnProgress: m.opts.OnFetch})

	m.fetchWG.Add(1)
	go func() {
		defer m.fetchWG.Done()
		defer cancel()
		for r := range pool.Stream(fctx, tasks) {
			m.applyFetched(gen, a, sources[r.Task.SourceID], r)
		}
	}()
}

// applyFetched registers a fetched source and adds the layers it unblocks.
// Results for a replaced adapter or a detached map are dropped.
func (m *Map) applyFetched(gen uint64, a engine.Adapter, src catalog.Source, r worker.Result) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	if m.detached || m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding fetch result", "op", "fetch", "source", src.ID)
		return
	}
	if r.Err != nil {
		// let the engine load the URL itself
		m.logger.Warn("geojson fetch failed, engine will load the url", "op", "fetch", "source", src.ID, "url", src.URL, "error", r.Err)
	} else {
		src.Data = r.Data
		m.logger.Debug("geojson source loaded", "op", "fetch", "source", src.ID, "features", len(r.Data.Features), "elapsed", r.Elapsed)
	}
	m.fetched[src.ID] = src
	var ready []catalog.Layer
	for _, id := range sortedKeys(m.deferred) {
		waiting := m.deferred[id]
		delete(waiting, src.ID)
		if len(waiting) > 0 {
			continue
		}
		delete(m.deferred, id)
		if l, ok := m.layerLocked(id); ok {
			ready = append(ready, l)
		}
	}
	m.mu.Unlock()

	if err := a.Layers().AddSource(src); err != nil {
		m.logger.Warn("source not registered", "op", "fetch", "source", src.ID, "error", err)
	}
	for _, l := range ready {
		if err := a.Layers().AddLayer(l); err != nil {
			m.logger.Warn("layer not added", "op", "fetch", "layer", l.ID, "error", err)
		}
	}
}

func (m *Map) layerLocked(id string) (catalog.Layer, bool) {
	if req, ok := m.adhoc[id]; ok {
		return *req.Layer, true
	}
	return m.doc.Catalog.Layer(id)
}

// AddLayer shows a catalog layer, or the layer carried by req.
func (m *Map) AddLayer(req LayerAddRequest) error {
	if req.Layer != nil && len(req.Layer.Layerset) > 0 {
		if req.LayerID == "" {
			req.LayerID = req.Layer.ID
		}
		l := *req.Layer
		l.ID = req.LayerID
		req.Layer = &l
		m.mu.Lock()
		m.adhoc[req.LayerID] = req
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return ErrDetached
	}
	if !slices.Contains(m.shown, req.LayerID) {
		m.shown = append(m.shown, req.LayerID)
	}
	a, gen := m.adapter, m.gen
	m.mu.Unlock()

	l, sources, ok := m.lookupLayer(req.LayerID)
	if !ok {
		m.mu.Lock()
		m.shown = slices.DeleteFunc(m.shown, func(s string) bool { return s == req.LayerID })
		m.mu.Unlock()
		return fmt.Errorf("layer %q: not in catalog", req.LayerID)
	}
	if a == nil {
		// applied once the engine is ready
		return nil
	}

	fetch := make(map[string]catalog.Source)
	waiting := m.registerSources(a, sources, fetch)
	if len(waiting) > 0 {
		m.mu.Lock()
		m.deferred[req.LayerID] = waiting
		m.mu.Unlock()
		m.fetchSources(context.Background(), gen, a, fetch)
		return nil
	}
	return a.Layers().AddLayer(l)
}

// RemoveLayer hides a layer. Unknown ids are ignored.
func (m *Map) RemoveLayer(id string) error {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return ErrDetached
	}
	m.shown = slices.DeleteFunc(m.shown, func(s string) bool { return s == id })
	delete(m.deferred, id)
	delete(m.adhoc, id)
	a := m.adapter
	m.mu.Unlock()
	if a == nil {
		return nil
	}
	return a.Layers().RemoveLayer(id)
}

// Shown returns the logical layers the host keeps visible, including
// those still waiting for data.
func (m *Map) Shown() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.shown)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
