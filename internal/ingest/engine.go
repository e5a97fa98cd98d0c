// Package ingest implements the correlation engine: the single consumer
// that joins position, nodeinfo, and telemetry events into enriched
// readings and hands them to the analytical writer and the downstream
// publisher.
package ingest

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wesense/mesh-ingester/internal/config"
	"github.com/wesense/mesh-ingester/internal/database"
	"github.com/wesense/mesh-ingester/internal/dedup"
	"github.com/wesense/mesh-ingester/internal/mesh"
	"github.com/wesense/mesh-ingester/internal/metrics"
	"github.com/wesense/mesh-ingester/internal/publish"
	"github.com/wesense/mesh-ingester/internal/state"
)

// Geocoder resolves coordinates to normalized country/subdivision codes.
type Geocoder interface {
	Lookup(lat, lon float64) (country, subdivision string, ok bool)
}

// Publisher delivers one enriched reading downstream, best-effort.
type Publisher interface {
	Publish(topic string, reading publish.Reading)
}

// RowWriter accepts rows for eventual batch insert.
type RowWriter interface {
	Add(ctx context.Context, row database.Row)
	Depth() int
	TotalWritten() int64
}

// rawMessage is one MQTT payload tagged with its source label, queued by
// a source-client callback for the correlation goroutine.
type rawMessage struct {
	source  string
	payload []byte
}

// shard is the per-source correlation state, touched only by the
// correlation goroutine.
type shard struct {
	source  config.Source
	nodes   *state.NodeStore
	pending *state.PendingStore
	info    *state.NodeInfoBuffer
}

// Deps are the engine's injected collaborators.
type Deps struct {
	Decoder   *mesh.Decoder
	Dedup     *dedup.Window
	Geocoder  Geocoder
	Publisher Publisher
	Writer    RowWriter
	FutureLog zerolog.Logger
	Clock     clockwork.Clock
}

type Engine struct {
	cfg    *config.Config
	deps   Deps
	log    zerolog.Logger
	shards map[string]*shard
	queue  chan rawMessage

	dropped   atomic.Int64
	committed atomic.Int64
}

const queueCapacity = 4096

func New(cfg *config.Config, sources []config.Source, deps Deps, log zerolog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		log:    log.With().Str("component", "ingest").Logger(),
		shards: make(map[string]*shard, len(sources)),
		queue:  make(chan rawMessage, queueCapacity),
	}
	for _, src := range sources {
		e.shards[src.Label] = &shard{
			source:  src,
			nodes:   state.NewNodeStore(src.CacheFile, log),
			pending: state.NewPendingStoreWithClock(src.PendingFile(), log, deps.Clock),
			info:    state.NewNodeInfoBuffer(),
		}
	}
	return e
}

// LoadState reads the persisted per-source caches. Called once at startup
// before any event is processed.
func (e *Engine) LoadState() {
	for label, sh := range e.shards {
		sh.nodes.Load()
		valid, expired := sh.pending.Load()
		e.log.Info().
			Str("source", label).
			Int("nodes", sh.nodes.Len()).
			Int("pending_valid", valid).
			Int("pending_expired", expired).
			Msg("source state loaded")
	}
}

// HandleRaw is the source-client callback: enqueue and return. A full
// queue drops the message rather than blocking the MQTT thread.
func (e *Engine) HandleRaw(source string, payload []byte) {
	metrics.MessagesReceivedTotal.WithLabelValues(source).Inc()
	select {
	case e.queue <- rawMessage{source: source, payload: payload}:
	default:
		e.dropped.Add(1)
	}
}

// Run consumes the event queue until ctx is cancelled, then drains
// whatever is already queued before returning.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case msg := <-e.queue:
			e.process(ctx, msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-e.queue:
					e.process(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, msg rawMessage) {
	sh, ok := e.shards[msg.source]
	if !ok {
		return
	}

	ev, err := e.deps.Decoder.Decode(msg.payload)
	if err != nil {
		metrics.DecodeFailuresTotal.Inc()
		return
	}
	if ev == nil {
		return
	}
	metrics.EventsDecodedTotal.WithLabelValues(strconv.Itoa(int(ev.Port))).Inc()

	switch ev.Port {
	case mesh.PortPosition:
		e.handlePosition(ctx, sh, ev)
	case mesh.PortNodeInfo:
		e.handleNodeInfo(sh, ev)
	case mesh.PortTelemetry:
		e.handleTelemetry(ctx, sh, ev)
	}
}

func (e *Engine) handlePosition(ctx context.Context, sh *shard, ev *mesh.Event) {
	pos := ev.Position
	if pos == nil || !pos.Valid() {
		return
	}

	var alt *float64
	if pos.Altitude != nil {
		v := float64(*pos.Altitude)
		alt = &v
	}

	existing := sh.nodes.Get(ev.NodeID)
	if existing != nil {
		if existing.SamePlace(pos.Latitude, pos.Longitude, alt) {
			return
		}
		// Position moved: keep metadata and the env-time watermark.
		existing.Lat = pos.Latitude
		existing.Lon = pos.Longitude
		existing.Alt = alt
		sh.nodes.Put(ev.NodeID, existing)
		e.log.Debug().Str("source", sh.source.Label).Str("node", ev.NodeID).Msg("position updated")
		return
	}

	rec := &state.NodeRecord{Lat: pos.Latitude, Lon: pos.Longitude, Alt: alt}
	if info, ok := sh.info.Take(ev.NodeID); ok {
		rec.Name = info.Name
		rec.Hardware = info.Hardware
	}
	sh.nodes.Put(ev.NodeID, rec)
	e.log.Info().Str("source", sh.source.Label).Str("node", ev.NodeID).
		Float64("lat", pos.Latitude).Float64("lon", pos.Longitude).
		Msg("first position for node")

	queued := sh.pending.Take(ev.NodeID)
	for _, r := range queued {
		e.commit(ctx, sh, ev.NodeID, rec, r)
	}
	if len(queued) > 0 {
		e.log.Info().Str("source", sh.source.Label).Str("node", ev.NodeID).
			Int("drained", len(queued)).Msg("pending telemetry drained")
		sh.nodes.Save()
	}
}

func (e *Engine) handleNodeInfo(sh *shard, ev *mesh.Event) {
	info := ev.NodeInfo
	if info == nil || (info.LongName == "" && info.Hardware == "") {
		return
	}

	rec := sh.nodes.Get(ev.NodeID)
	if rec == nil {
		sh.info.Merge(ev.NodeID, info.LongName, info.Hardware)
		return
	}
	if info.LongName != "" {
		rec.Name = info.LongName
	}
	if info.Hardware != "" {
		rec.Hardware = info.Hardware
	}
	sh.nodes.Put(ev.NodeID, rec)
}

func (e *Engine) handleTelemetry(ctx context.Context, sh *shard, ev *mesh.Event) {
	tel := ev.Telemetry
	if tel == nil {
		return
	}

	now := e.deps.Clock.Now()
	if tel.Time > now.Unix()+int64(state.FutureTolerance/time.Second) {
		metrics.FutureTimestampsTotal.Inc()
		e.deps.FutureLog.Warn().
			Str("source", sh.source.Label).
			Str("node", ev.NodeID).
			Int64("sensor_ts", tel.Time).
			Int64("now", now.Unix()).
			Msg("future timestamp rejected")
		return
	}

	if tel.HasDevice() {
		logEv := e.log.Debug().Str("source", sh.source.Label).Str("node", ev.NodeID)
		if tel.BatteryLevel != nil {
			logEv = logEv.Uint32("battery", *tel.BatteryLevel)
		}
		if tel.Voltage != nil {
			logEv = logEv.Float32("voltage", *tel.Voltage)
		}
		logEv.Msg("device metrics")
	}

	// The publish gate applies to environment telemetry only; device
	// metrics above are log-only either way.
	if !sh.source.PublishToWesense || !tel.HasEnvironment() {
		return
	}

	for _, cand := range environmentReadings(tel) {
		if e.deps.Dedup.IsDuplicate(ev.NodeID, cand.Type, cand.Timestamp) {
			metrics.DuplicatesDroppedTotal.Inc()
			continue
		}

		rec := sh.nodes.Get(ev.NodeID)
		if rec == nil {
			depth := sh.pending.Append(ev.NodeID, cand)
			metrics.PendingBufferedTotal.WithLabelValues(sh.source.Label).Inc()
			e.log.Debug().Str("source", sh.source.Label).Str("node", ev.NodeID).
				Str("type", cand.Type).Int("depth", depth).Msg("reading buffered, no position yet")
			continue
		}
		if !rec.HasValidPosition() {
			continue
		}
		e.commit(ctx, sh, ev.NodeID, rec, cand)
	}
}

// environmentReadings expands present, nonzero environment metrics into
// candidate readings.
func environmentReadings(tel *mesh.Telemetry) []state.Reading {
	var out []state.Reading
	if tel.Temperature != nil && *tel.Temperature != 0 {
		out = append(out, state.Reading{Type: "temperature", Value: float64(*tel.Temperature), Unit: "°C", Timestamp: tel.Time})
	}
	if tel.RelativeHumidity != nil && *tel.RelativeHumidity != 0 {
		out = append(out, state.Reading{Type: "humidity", Value: float64(*tel.RelativeHumidity), Unit: "%", Timestamp: tel.Time})
	}
	if tel.BarometricPressure != nil && *tel.BarometricPressure != 0 {
		out = append(out, state.Reading{Type: "pressure", Value: float64(*tel.BarometricPressure), Unit: "hPa", Timestamp: tel.Time})
	}
	return out
}

// commit enriches one reading and emits it to the writer and publisher.
func (e *Engine) commit(ctx context.Context, sh *shard, nodeID string, rec *state.NodeRecord, r state.Reading) {
	sh.nodes.UpdateEnvTime(nodeID, r.Timestamp)

	country, subdivision := "unknown", "unknown"
	if e.deps.Geocoder != nil {
		if c, s, ok := e.deps.Geocoder.Lookup(rec.Lat, rec.Lon); ok {
			country, subdivision = c, s
		}
	}

	var nodeName *string
	if rec.Name != "" {
		name := rec.Name
		nodeName = &name
	}

	row := database.Row{
		Timestamp:      time.Unix(r.Timestamp, 0).UTC(),
		DeviceID:       nodeID,
		DataSource:     e.cfg.DataSource(),
		NetworkSource:  sh.source.Label,
		IngestionNode:  e.cfg.IngestionNodeID,
		ReadingType:    r.Type,
		Value:          r.Value,
		Unit:           r.Unit,
		Latitude:       rec.Lat,
		Longitude:      rec.Lon,
		Altitude:       rec.Alt,
		GeoCountry:     country,
		GeoSubdivision: subdivision,
		BoardModel:     rec.Hardware,
		DeploymentType: deploymentType(rec.Name),
		TransportType:  "LORA",
		LocationSource: "gps",
		NodeName:       nodeName,
	}
	e.deps.Writer.Add(ctx, row)
	e.committed.Add(1)
	metrics.ReadingsCommittedTotal.WithLabelValues(sh.source.Label, r.Type).Inc()

	e.deps.Publisher.Publish(
		publish.Topic(e.mqttSourceLabel(sh), country, subdivision, nodeID),
		publish.Reading{
			Timestamp:   r.Timestamp,
			DeviceID:    nodeID,
			Name:        rec.Name,
			Latitude:    rec.Lat,
			Longitude:   rec.Lon,
			Altitude:    rec.Alt,
			Country:     country,
			Subdivision: subdivision,
			DataSource:  e.cfg.DataSource(),
			ReadingType: r.Type,
			Value:       r.Value,
			Unit:        r.Unit,
			BoardModel:  rec.Hardware,
		},
	)
}

// mqttSourceLabel names the topic segment identifying how a reading
// entered the mesh.
func (e *Engine) mqttSourceLabel(sh *shard) string {
	if sh.source.Label == "LOCAL" || e.cfg.Mode == "community" {
		return "meshtastic-community"
	}
	if e.cfg.LegacyMode {
		return "meshtastic-public"
	}
	return "meshtastic-downlink"
}

// deploymentType labels nodes following the outdoor naming convention.
func deploymentType(name string) string {
	if len(name) >= 3 && (name[0] == 'W' || name[0] == 'w') && (name[1] == 'S' || name[1] == 's') && name[2] == '-' {
		return "OUTDOOR"
	}
	return ""
}

// PersistAll saves every shard's node and pending caches. Called on
// shutdown.
func (e *Engine) PersistAll() {
	for _, sh := range e.shards {
		sh.nodes.Save()
		sh.pending.Save()
	}
}

// QueueDepth reports events waiting for the correlation goroutine.
func (e *Engine) QueueDepth() int { return len(e.queue) }

// WriterDepth reports rows buffered ahead of the analytical store.
func (e *Engine) WriterDepth() int { return e.deps.Writer.Depth() }

// TotalWritten reports rows successfully written to the store.
func (e *Engine) TotalWritten() int64 { return e.deps.Writer.TotalWritten() }

// Committed reports readings handed to the writer.
func (e *Engine) Committed() int64 { return e.committed.Load() }

// Dropped reports messages discarded because the queue was full.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// KnownNodes reports per-source node counts.
func (e *Engine) KnownNodes() map[string]int {
	out := make(map[string]int, len(e.shards))
	for label, sh := range e.shards {
		out[label] = sh.nodes.Len()
	}
	return out
}

// PendingDepth reports per-source pending reading counts.
func (e *Engine) PendingDepth() map[string]int {
	out := make(map[string]int, len(e.shards))
	for label, sh := range e.shards {
		out[label] = sh.pending.Depth()
	}
	return out
}
