package liveset

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"liveline/internal/core"
	"liveline/pkg/domain"
)

// DefaultVendorSignature is the browser-content-path fragment marking devices
// whose automation this editor manages. Tracks carrying any other device are
// ignored entirely.
const DefaultVendorSignature = "query:Plugins"

var (
	// trackTokenRE extracts the leading track-index token from a host
	// parameter name, e.g. "T3 Cutoff".
	trackTokenRE = regexp.MustCompile(`^T(\d+) `)
	muteNameRE   = regexp.MustCompile(`(?i)\bmute\b`)
)

// ImportStats counts the entities emitted by one import.
type ImportStats struct {
	Devices     int
	Tracks      int
	Parameters  int
	Points      int
	Transitions int
}

// Importer extracts normalized entities from a compressed project file and
// reloads them into a store. One import replaces the store's previous
// contents atomically.
type Importer struct {
	Logger          core.Logger
	VendorSignature string
}

func (im *Importer) logger() core.Logger {
	if im.Logger == nil {
		return core.NopLogger()
	}
	return im.Logger
}

func (im *Importer) signature() string {
	if im.VendorSignature == "" {
		return DefaultVendorSignature
	}
	return im.VendorSignature
}

type floatEvent struct {
	time  float64
	value float64
}

type paramMeta struct {
	pointeeID string
	hostID    int
	name      string
}

type deviceData struct {
	name      string
	class     string
	params    []paramMeta
	envelopes map[string][]floatEvent
}

// Import decompresses and parses raw, extracts the vendor's devices, and
// reloads the store inside a single transaction so a failed load leaves the
// previous contents intact.
func (im *Importer) Import(ctx context.Context, store domain.PersistentStore, raw []byte) (ImportStats, error) {
	var stats ImportStats

	text, err := Decompress(raw)
	if err != nil {
		return stats, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(text); err != nil {
		return stats, fmt.Errorf("parse: %w", err)
	}

	devices := im.collect(doc)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, existing := range tx.Snapshot().ListDevices() {
			if err := tx.DeleteDevice(existing.ID); err != nil {
				return err
			}
		}
		for _, dd := range devices {
			if err := im.emitDevice(tx, dd, &stats); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return ImportStats{}, err
	}

	im.logger().Info("import complete",
		"devices", stats.Devices,
		"tracks", stats.Tracks,
		"parameters", stats.Parameters,
		"points", stats.Points,
		"transitions", stats.Transitions,
	)
	return stats, nil
}

// collect walks every track under LiveSet > Tracks and keeps those whose
// first device matches the vendor signature.
func (im *Importer) collect(doc *etree.Document) []deviceData {
	liveSet := doc.Root()
	if liveSet != nil && liveSet.Tag != "LiveSet" {
		liveSet = Child(liveSet, "LiveSet")
	}
	tracksEl := Child(liveSet, "Tracks")
	if tracksEl == nil {
		im.logger().Warn("document has no LiveSet > Tracks node")
		return nil
	}

	var out []deviceData
	for _, trackEl := range tracksEl.ChildElements() {
		devicesEl := Path(trackEl, "DeviceChain", "Devices")
		if devicesEl == nil || len(devicesEl.ChildElements()) == 0 {
			continue
		}
		device := devicesEl.ChildElements()[0]
		class, ok := ChildValue(device, "BrowserContentPath")
		if !ok || !strings.Contains(class, im.signature()) {
			im.logger().Debug("skipping foreign track", "device", device.Tag)
			continue
		}
		dd := deviceData{
			name:      device.Tag,
			class:     class,
			params:    parameterEntries(device),
			envelopes: make(map[string][]floatEvent),
		}
		for _, env := range trackEnvelopes(trackEl) {
			dd.envelopes[env.pointeeID] = env.points
		}
		out = append(out, dd)
	}
	return out
}

// parameterEntries walks the device's flat parameter list, excluding entries
// whose numeric id is the unassigned sentinel.
func parameterEntries(device *etree.Element) []paramMeta {
	list := Child(device, "ParameterList")
	if list == nil {
		return nil
	}
	var params []paramMeta
	for _, entry := range list.ChildElements() {
		name, ok := ChildValue(entry, "Name")
		if !ok {
			continue
		}
		hostRaw, ok := ChildValue(entry, "ParameterId")
		if !ok {
			continue
		}
		hostID, err := strconv.Atoi(hostRaw)
		if err != nil || hostID == domain.NoParameterID {
			continue
		}
		target := Child(entry, "AutomationTarget")
		if target == nil {
			continue
		}
		attr := target.SelectAttr("Id")
		if attr == nil {
			continue
		}
		params = append(params, paramMeta{pointeeID: attr.Value, hostID: hostID, name: name})
	}
	return params
}

type envelopeData struct {
	pointeeID string
	points    []floatEvent
}

func trackEnvelopes(trackEl *etree.Element) []envelopeData {
	parent := Path(trackEl, "AutomationEnvelopes", "Envelopes")
	var out []envelopeData
	for _, env := range Children(parent, "AutomationEnvelope") {
		pointee, ok := ChildValue(Child(env, "EnvelopeTarget"), "PointeeId")
		if !ok {
			continue
		}
		var points []floatEvent
		for _, fe := range Children(Path(env, "Automation", "Events"), "FloatEvent") {
			t, err1 := strconv.ParseFloat(fe.SelectAttrValue("Time", ""), 64)
			v, err2 := strconv.ParseFloat(fe.SelectAttrValue("Value", ""), 64)
			if err1 != nil || err2 != nil {
				continue
			}
			points = append(points, floatEvent{time: t, value: v})
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].time < points[j].time })
		out = append(out, envelopeData{pointeeID: pointee, points: points})
	}
	return out
}

func (im *Importer) emitDevice(tx domain.Transaction, dd deviceData, stats *ImportStats) error {
	device, err := tx.CreateDevice(domain.Device{Name: dd.name, Class: dd.class})
	if err != nil {
		return err
	}
	stats.Devices++

	tracksByNumber := make(map[int]domain.Track)
	muteSatisfied := make(map[int]bool)
	for _, pm := range dd.params {
		match := trackTokenRE.FindStringSubmatch(pm.name)
		if match == nil {
			im.logger().Debug("parameter without track token", "name", pm.name)
			continue
		}
		number, _ := strconv.Atoi(match[1])
		track, ok := tracksByNumber[number]
		if !ok {
			track, err = tx.CreateTrack(domain.Track{
				DeviceID: device.ID,
				Number:   number,
				Name:     fmt.Sprintf("T%d", number),
			})
			if err != nil {
				return err
			}
			tracksByNumber[number] = track
			stats.Tracks++
		}

		isMute := muteNameRE.MatchString(pm.name)
		param, err := tx.CreateParameter(domain.Parameter{
			TrackID:   track.ID,
			Name:      pm.name,
			Path:      dd.class,
			PointeeID: pm.pointeeID,
			HostID:    pm.hostID,
			IsMute:    isMute,
		})
		if err != nil {
			return err
		}
		stats.Parameters++

		// Unautomated parameters stay visible as metadata with zero points.
		points := dd.envelopes[pm.pointeeID]
		if len(points) == 0 {
			continue
		}

		// Only the first binary mute stream per track becomes the
		// authoritative transition sequence; later ones degrade to ordinary
		// automation so mute states cannot conflict.
		if isMute && binaryValues(points) && !muteSatisfied[number] {
			muteSatisfied[number] = true
			for _, ev := range collapseMuteEvents(points) {
				if _, err := tx.CreateMuteTransition(domain.MuteTransition{
					TrackID:     track.ID,
					ParameterID: param.ID,
					Time:        ev.time,
					IsMuted:     ev.value == 1,
				}); err != nil {
					return err
				}
				stats.Transitions++
			}
			continue
		}
		for _, ev := range points {
			if _, err := tx.CreateAutomationPoint(domain.AutomationPoint{
				ParameterID: param.ID,
				Time:        ev.time,
				Value:       ev.value,
			}); err != nil {
				return err
			}
			stats.Points++
		}
	}
	return nil
}

func binaryValues(events []floatEvent) bool {
	for _, e := range events {
		if e.value != 0 && e.value != 1 {
			return false
		}
	}
	return true
}

// collapseMuteEvents deduplicates events by time (last write wins) and drops
// any event repeating the previous state, leaving only true flips.
func collapseMuteEvents(events []floatEvent) []floatEvent {
	byTime := make(map[float64]float64)
	times := make([]float64, 0, len(events))
	for _, e := range events {
		if _, seen := byTime[e.time]; !seen {
			times = append(times, e.time)
		}
		byTime[e.time] = e.value
	}
	sort.Float64s(times)

	out := make([]floatEvent, 0, len(times))
	for _, t := range times {
		v := byTime[t]
		if len(out) > 0 && out[len(out)-1].value == v {
			continue
		}
		out = append(out, floatEvent{time: t, value: v})
	}
	return out
}
