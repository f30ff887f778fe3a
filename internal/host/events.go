package host

import (
	"log/slog"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
)

// Host event types. EngineReady and ConfigReady are announcements; the
// rest are requests the host acts on.
const (
	TypeEngineReady           event.Type = "engine-ready"
	TypeConfigReady           event.Type = "config-ready"
	TypeToolActivate          event.Type = "tool-activate"
	TypeToolDeactivate        event.Type = "tool-deactivate"
	TypeLayerAddRequest       event.Type = "layer-add-request"
	TypeLayerRemoveRequest    event.Type = "layer-remove-request"
	TypeSourceBusySuppression event.Type = "source-busy-suppression"
)

// EngineReady is emitted once an adapter is built and initialized.
type EngineReady struct {
	Engine       string              `json:"engine"`
	Capabilities engine.Capabilities `json:"capabilities"`
}

// ConfigReady is emitted after the catalog was applied to a new adapter.
type ConfigReady struct {
	Layers   []string `json:"layers"`
	Pending  []string `json:"pending,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ToolActivate asks the host to activate a registered tool.
type ToolActivate struct {
	ToolID string `json:"toolId"`
}

// ToolDeactivate asks the host to deactivate a tool, or the active modal
// tool when ToolID is empty.
type ToolDeactivate struct {
	ToolID string `json:"toolId,omitempty"`
}

// LayerAddRequest asks the host to show a layer. Layer is used as given
// when it carries a layerset, otherwise the catalog entry LayerID is used.
type LayerAddRequest struct {
	LayerID string           `json:"layerId"`
	Layer   *catalog.Layer   `json:"layer,omitempty"`
	Sources []catalog.Source `json:"sources,omitempty"`
}

// LayerRemoveRequest asks the host to hide a layer.
type LayerRemoveRequest struct {
	LayerID string `json:"layerId"`
}

// SourceBusySuppression asks the host to exclude a catalog source's tile
// loading from the busy flag, or to include it again.
type SourceBusySuppression struct {
	SourceID string `json:"sourceId"`
	Suppress bool   `json:"suppress"`
}

func (EngineReady) Type() event.Type           { return TypeEngineReady }
func (ConfigReady) Type() event.Type           { return TypeConfigReady }
func (ToolActivate) Type() event.Type          { return TypeToolActivate }
func (ToolDeactivate) Type() event.Type        { return TypeToolDeactivate }
func (LayerAddRequest) Type() event.Type       { return TypeLayerAddRequest }
func (LayerRemoveRequest) Type() event.Type    { return TypeLayerRemoveRequest }
func (SourceBusySuppression) Type() event.Type { return TypeSourceBusySuppression }

// Events is the host's own bus, separate from the map event bus so UI
// components can talk to the host without depending on an adapter.
type Events struct {
	*event.Bus
}

// NewEvents creates an empty host bus.
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{Bus: event.NewBus(logger.With("component", "host-events"))}
}
