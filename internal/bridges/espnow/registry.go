package espnow

import (
	"fmt"
	"time"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// Registry defaults.
const (
	// DefaultMaxPendingJobs caps the jobs parked per unresolved entity.
	DefaultMaxPendingJobs = 64

	// DefaultDiscoveryRequestTTL suppresses repeated discovery requests
	// for the same entity.
	DefaultDiscoveryRequestTTL = 3 * time.Second
)

// Job runs against a resolved device and entity.
type Job func(*Device, Entity)

// Sender writes encoded frames to the gateway radio.
type Sender interface {
	Send(frameBytes []byte) error
}

// RegistryStats is a snapshot of registry counters.
type RegistryStats struct {
	Devices           int
	Entities          int
	PendingJobs       int
	DroppedJobs       uint64
	DiscoveryRequests uint64
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Topics Topics
	Origin *Origin

	// MaxPendingJobs caps jobs per key; 0 is unbounded, negative selects
	// DefaultMaxPendingJobs.
	MaxPendingJobs int

	// RequestTTL defaults to DefaultDiscoveryRequestTTL.
	RequestTTL time.Duration
}

// Registry owns the device table, the jobs waiting for entities and the
// outstanding discovery requests.
//
// Thread Safety: must only be used on the Scheduler goroutine.
type Registry struct {
	cfg    RegistryConfig
	sched  Scheduler
	sender Sender
	logger Logger

	devices   map[string]*Device
	pending   map[string][]Job
	requested map[string]struct{}

	droppedJobs       uint64
	discoveryRequests uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig, sched Scheduler, sender Sender, logger Logger) *Registry {
	if cfg.MaxPendingJobs < 0 {
		cfg.MaxPendingJobs = DefaultMaxPendingJobs
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = DefaultDiscoveryRequestTTL
	}
	return &Registry{
		cfg:       cfg,
		sched:     sched,
		sender:    sender,
		logger:    logger,
		devices:   make(map[string]*Device),
		pending:   make(map[string][]Job),
		requested: make(map[string]struct{}),
	}
}

func entityKey(deviceID, entityID string) string {
	return deviceID + "/" + entityID
}

// Device returns a known device.
func (r *Registry) Device(id string) (*Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// Lookup returns a known device and entity.
func (r *Registry) Lookup(deviceID, entityID string) (*Device, Entity, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, nil, false
	}
	e, ok := d.entities[entityID]
	if !ok {
		return nil, nil, false
	}
	return d, e, true
}

// ResolveOrDefer runs job now if the entity is known. Otherwise the job is
// parked until OnEntityReady and, unless one is already outstanding, a
// discovery request is sent to mac.
func (r *Registry) ResolveOrDefer(deviceID, entityID, mac string, job Job) {
	if d, e, ok := r.Lookup(deviceID, entityID); ok {
		job(d, e)
		return
	}

	key := entityKey(deviceID, entityID)
	jobs := append(r.pending[key], job)
	if limit := r.cfg.MaxPendingJobs; limit > 0 && len(jobs) > limit {
		dropped := len(jobs) - limit
		jobs = jobs[dropped:]
		r.droppedJobs += uint64(dropped) //nolint:gosec // dropped > 0
		r.logWarn("pending job limit reached, dropping oldest", "key", key, "limit", limit)
	}
	r.pending[key] = jobs

	if _, outstanding := r.requested[key]; outstanding {
		return
	}
	r.requested[key] = struct{}{}
	r.sched.After(r.cfg.RequestTTL, func() { delete(r.requested, key) })
	r.requestDiscovery(mac, entityID)
}

func (r *Registry) requestDiscovery(mac, entityID string) {
	payload, err := encodeDiscoveryRequest(entityID)
	if err != nil {
		r.logWarn("encoding discovery request failed", "entity", entityID, "error", err)
		return
	}
	out, err := frame.EncodeEspNowTx(mac, payload)
	if err != nil {
		r.logWarn("encoding discovery request failed", "entity", entityID, "mac", mac, "error", err)
		return
	}

	r.discoveryRequests++
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(out); err != nil {
		r.logWarn("sending discovery request failed", "entity", entityID, "mac", mac, "error", err)
		return
	}
	r.logDebug("requested discovery", "entity", entityID, "mac", mac)
}

// BootstrapDevice returns the device with id, creating it on first use.
// The MAC of an existing device is never changed.
func (r *Registry) BootstrapDevice(id, mac string) *Device {
	if d, ok := r.devices[id]; ok {
		return d
	}
	d := newDevice(id, mac, r.cfg.Topics, r.cfg.Origin)
	r.devices[id] = d
	r.logInfo("device created", "device", id, "mac", mac)
	return d
}

// BootstrapEntity returns the entity with id on dev, creating it for
// platform on first use. hint is the announcing payload. An unsupported
// platform returns ErrUnsupportedPlatform and leaves pending jobs queued.
func (r *Registry) BootstrapEntity(dev *Device, id string, platform Platform, hint *NowPayload) (Entity, error) {
	if e, ok := dev.entities[id]; ok {
		return e, nil
	}
	e, err := newEntity(platform, id, dev, hint)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping %s/%s: %w", dev.ID, id, err)
	}
	dev.entities[id] = e
	r.logInfo("entity created", "device", dev.ID, "entity", id, "platform", string(platform))
	return e, nil
}

// OnEntityReady runs the jobs parked for the entity in arrival order. The
// list is detached first, so jobs that defer again start a new list.
func (r *Registry) OnEntityReady(deviceID, entityID string) {
	d, e, ok := r.Lookup(deviceID, entityID)
	if !ok {
		return
	}
	key := entityKey(deviceID, entityID)
	jobs := r.pending[key]
	delete(r.pending, key)

	for _, job := range jobs {
		job(d, e)
	}
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() RegistryStats {
	s := RegistryStats{
		Devices:           len(r.devices),
		DroppedJobs:       r.droppedJobs,
		DiscoveryRequests: r.discoveryRequests,
	}
	for _, d := range r.devices {
		s.Entities += len(d.entities)
	}
	for _, jobs := range r.pending {
		s.PendingJobs += len(jobs)
	}
	return s
}

func (r *Registry) logDebug(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, kv...)
	}
}

func (r *Registry) logInfo(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}

func (r *Registry) logWarn(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}
