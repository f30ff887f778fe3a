package layers

import (
	"github.com/MeKo-Tech/mapbridge/internal/engine"
)

// Bind assembles an engine adapter from its driver and layer target: a
// Normalizer for the camera, a Synthesizer for the catalog, and zoom-end
// restyling between them.
func Bind(profile engine.Profile, driver engine.Driver, target Target, deps engine.Deps) *engine.Base {
	deps = deps.WithDefaults()
	core := engine.NewNormalizer(profile, driver, deps)
	synth := New(target, deps.Store, deps.Logger.With("engine", profile.Name))
	off := core.OnZoomEnd(synth.Restyle)
	return engine.NewAdapter(core, synth, deps, off, synth.Clear)
}
