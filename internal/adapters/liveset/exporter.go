package liveset

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"liveline/internal/core"
	"liveline/pkg/domain"
)

// Exporter projects the store's current automation back into a clone of the
// original document. Only the contents of matched event lists change; no
// structural node is ever created, so a parameter added purely in-session
// with no originating envelope is not exported.
type Exporter struct {
	Logger          core.Logger
	VendorSignature string
}

func (ex *Exporter) logger() core.Logger {
	if ex.Logger == nil {
		return core.NopLogger()
	}
	return ex.Logger
}

func (ex *Exporter) signature() string {
	if ex.VendorSignature == "" {
		return DefaultVendorSignature
	}
	return ex.VendorSignature
}

// Export decompresses and parses original, clones it, substitutes the event
// lists of every envelope that resolves to a current parameter, and returns
// the recompressed clone. The original document is never mutated. Unresolved
// envelopes are logged and skipped, never fatal.
func (ex *Exporter) Export(ctx context.Context, store domain.PersistentStore, original []byte) ([]byte, error) {
	text, err := Decompress(original)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(text); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	clone := doc.Copy()

	events, err := ex.currentEvents(ctx, store)
	if err != nil {
		return nil, err
	}

	written := make(map[string]bool)
	ex.substitute(clone, events, written)
	for pointeeID := range events {
		if !written[pointeeID] {
			ex.logger().Warn("parameter has no originating envelope, skipped", "pointee_id", pointeeID)
		}
	}

	out, err := clone.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return Compress(out)
}

// currentEvents maps each parameter's pointee id to its full point list, with
// mute transition sequences re-synthesized as instantaneous-step pairs.
func (ex *Exporter) currentEvents(ctx context.Context, store domain.PersistentStore) (map[string][]floatEvent, error) {
	events := make(map[string][]floatEvent)
	err := store.View(ctx, func(view domain.TransactionView) error {
		transitionsByParameter := make(map[string][]domain.MuteTransition)
		for _, track := range view.ListTracks() {
			for _, tr := range view.ListMuteTransitions(track.ID) {
				transitionsByParameter[tr.ParameterID] = append(transitionsByParameter[tr.ParameterID], tr)
			}
		}
		for _, param := range view.ListParameters() {
			if param.PointeeID == "" {
				continue
			}
			if transitions, ok := transitionsByParameter[param.ID]; ok {
				events[param.PointeeID] = muteStepEvents(transitions)
				continue
			}
			points := view.ListAutomationPoints(param.ID)
			if len(points) == 0 {
				continue
			}
			out := make([]floatEvent, 0, len(points))
			for _, p := range points {
				out = append(out, floatEvent{time: p.Time, value: p.Value})
			}
			events[param.PointeeID] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// muteStepEvents renders a time-ordered alternating transition sequence as
// float events. Each transition after the first contributes a point at its
// own time holding the previous state immediately before the flip, so the
// step function survives linear interpolation by the host.
func muteStepEvents(transitions []domain.MuteTransition) []floatEvent {
	stateValue := func(muted bool) float64 {
		if muted {
			return 1
		}
		return 0
	}
	out := make([]floatEvent, 0, 2*len(transitions))
	for i, tr := range transitions {
		if i > 0 {
			out = append(out, floatEvent{time: tr.Time, value: stateValue(transitions[i-1].IsMuted)})
		}
		out = append(out, floatEvent{time: tr.Time, value: stateValue(tr.IsMuted)})
	}
	return out
}

func (ex *Exporter) substitute(doc *etree.Document, events map[string][]floatEvent, written map[string]bool) {
	liveSet := doc.Root()
	if liveSet != nil && liveSet.Tag != "LiveSet" {
		liveSet = Child(liveSet, "LiveSet")
	}
	tracksEl := Child(liveSet, "Tracks")
	if tracksEl == nil {
		return
	}
	for _, trackEl := range tracksEl.ChildElements() {
		devicesEl := Path(trackEl, "DeviceChain", "Devices")
		if devicesEl == nil || len(devicesEl.ChildElements()) == 0 {
			continue
		}
		class, ok := ChildValue(devicesEl.ChildElements()[0], "BrowserContentPath")
		if !ok || !strings.Contains(class, ex.signature()) {
			continue
		}
		for _, env := range Children(Path(trackEl, "AutomationEnvelopes", "Envelopes"), "AutomationEnvelope") {
			pointeeID, ok := ChildValue(Child(env, "EnvelopeTarget"), "PointeeId")
			if !ok {
				continue
			}
			points, ok := events[pointeeID]
			if !ok {
				ex.logger().Debug("envelope does not resolve to a current parameter", "pointee_id", pointeeID)
				continue
			}
			eventsEl := Path(env, "Automation", "Events")
			if eventsEl == nil {
				ex.logger().Warn("envelope has no event list", "pointee_id", pointeeID)
				continue
			}
			replaceEvents(eventsEl, points)
			written[pointeeID] = true
		}
	}
}

func replaceEvents(eventsEl *etree.Element, points []floatEvent) {
	for _, child := range eventsEl.ChildElements() {
		eventsEl.RemoveChild(child)
	}
	sorted := make([]floatEvent, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].time < sorted[j].time })
	for _, p := range sorted {
		fe := eventsEl.CreateElement("FloatEvent")
		fe.CreateAttr("Time", strconv.FormatFloat(p.time, 'f', -1, 64))
		fe.CreateAttr("Value", strconv.FormatFloat(p.value, 'f', -1, 64))
	}
}
