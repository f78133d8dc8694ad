package protector

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/dispatch"
)

// Classifier defaults.
const (
	DefaultRebuildInterval = 30 * time.Second
	DefaultRecencyWindow   = time.Second
)

// actionPlanPrefix marks notification types that are expected chatter when
// they cannot be tied to a door.
const actionPlanPrefix = "ACTIONPLAN_"

// Event kinds reported to Metrics.EventPublished.
const (
	EventDoorStatus  = "door_status"
	EventSynthesized = "synthesized"
	EventDoorLog     = "door_log"
)

var trailingTarget = regexp.MustCompile(`(?i)\b(?:to|on|for)\s+(.+)$`)

// ClassifierOptions holds configuration for creating a classifier.
type ClassifierOptions struct {
	// InstanceID scopes published channels.
	InstanceID string

	// Publisher receives normalized events.
	Publisher Publisher

	// Rebuild produces a fresh door map. Called when a status frame names
	// a controller the map does not know.
	Rebuild func(ctx context.Context) *DoorMap

	// Subscribe issues a status subscription for controllers discovered by
	// a rebuild. Optional.
	Subscribe func(ctx context.Context, controllers []string) error

	// RebuildInterval is the minimum time between triggered rebuilds.
	// Default: 30 seconds.
	RebuildInterval time.Duration

	// RecencyWindow suppresses synthesized events this close to a real
	// status frame. Default: 1 second.
	RecencyWindow time.Duration

	// Now overrides the clock. Optional.
	Now func() time.Time

	Logger  Logger
	Metrics Metrics

	state *hubState
}

// Classifier turns decoded frames into door events. It is driven by a single
// receive loop and is not safe for concurrent use.
type Classifier struct {
	instanceID string
	publisher  Publisher
	rebuild    func(ctx context.Context) *DoorMap
	subscribe  func(ctx context.Context, controllers []string) error
	now        func() time.Time
	logger     Logger
	metrics    Metrics
	state      *hubState

	rebuildInterval time.Duration
	lastRebuild     time.Time

	doors      *DoorMap
	subscribed map[string]struct{}
	recency    *RecencyGuard

	// baselines survive Reset so a resume after reconnect restores the
	// last non-overridden mode.
	baselines map[int]Mode

	channels dispatch.Channels
}

// NewClassifier creates a classifier with an empty door map.
func NewClassifier(opts ClassifierOptions) *Classifier {
	if opts.RebuildInterval <= 0 {
		opts.RebuildInterval = DefaultRebuildInterval
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.state == nil {
		opts.state = newHubState(opts.InstanceID, opts.Now)
	}

	return &Classifier{
		instanceID:      opts.InstanceID,
		publisher:       opts.Publisher,
		rebuild:         opts.Rebuild,
		subscribe:       opts.Subscribe,
		now:             opts.Now,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		state:           opts.state,
		rebuildInterval: opts.RebuildInterval,
		doors:           NewDoorMap(),
		subscribed:      make(map[string]struct{}),
		recency:         NewRecencyGuard(opts.RecencyWindow),
		baselines:       make(map[int]Mode),
	}
}

// Reset installs the map built for a new connection together with the
// controllers subscribed on it, and clears the recency guard.
func (c *Classifier) Reset(m *DoorMap, subscribed []string) {
	if m == nil {
		m = NewDoorMap()
	}
	c.doors = m
	c.subscribed = make(map[string]struct{}, len(subscribed))
	for _, ctrl := range subscribed {
		c.subscribed[ctrl] = struct{}{}
	}
	c.recency.Reset()
}

// Doors returns the current door map.
func (c *Classifier) Doors() *DoorMap {
	return c.doors
}

// Subscribed returns the sorted subscribed controllers.
func (c *Classifier) Subscribed() []string {
	out := make([]string, 0, len(c.subscribed))
	for ctrl := range c.subscribed {
		out = append(out, ctrl)
	}
	slices.Sort(out)
	return out
}

// Baseline returns the cached non-overridden mode of a door.
func (c *Classifier) Baseline(doorID int) (Mode, bool) {
	m, ok := c.baselines[doorID]
	return m, ok
}

// Handle processes one frame. It never fails; misses are logged and dropped.
func (c *Classifier) Handle(ctx context.Context, f Frame) {
	switch fr := f.(type) {
	case StatusFrame:
		c.handleStatus(ctx, fr)
	case NotificationFrame:
		c.state.markEvent()
		for i := range fr.Notifications {
			c.handleNotification(fr.Notifications[i])
		}
	case CompletionFrame:
		if fr.Error != "" {
			c.logWarn("hub invocation failed", "invocation_id", fr.InvocationID, "error", fr.Error)
		}
	case InvocationFrame:
		c.logDebug("ignoring hub invocation", "target", fr.Target)
	}
}

func (c *Classifier) handleStatus(ctx context.Context, f StatusFrame) {
	c.state.markEvent()
	c.state.recordStatus(f.StatusType, f.StatusID)

	if f.StatusType != StatusTypeDoor {
		c.state.recordNonDoorEvent()
		return
	}

	door, ok := c.doors.DoorForStatus(f.StatusID)
	if !ok {
		door, ok = c.resolveUnknownStatus(ctx, f.StatusID)
		if !ok {
			return
		}
	}

	now := c.now()
	c.recency.MarkReal(door.ID, now)

	if f.TimeZone != nil && (f.Overridden == nil || !*f.Overridden) {
		c.baselines[door.ID] = Mode(*f.TimeZone)
	}

	status := f.DoorStatus()
	c.state.recordDoorEvent(status)
	c.publishStatus(door.ID, door.Name, status, false, now)
}

// resolveUnknownStatus handles a status id missing from the map. Ids under a
// subscribed controller belong to other doors on the same panel. Unknown
// controllers trigger at most one rate-limited rebuild and one retry.
func (c *Classifier) resolveUnknownStatus(ctx context.Context, statusID string) (Door, bool) {
	prefix := ControllerPrefix(statusID)
	if _, ok := c.subscribed[prefix]; ok {
		return Door{}, false
	}
	if c.rebuild == nil {
		c.logDebug("unmapped status id", "status_id", statusID)
		return Door{}, false
	}

	now := c.now()
	if !c.lastRebuild.IsZero() && now.Sub(c.lastRebuild) < c.rebuildInterval {
		c.logDebug("unmapped status id, rebuild rate limited", "status_id", statusID, "controller", prefix)
		return Door{}, false
	}
	c.lastRebuild = now

	c.logInfo("rebuilding door map for unknown controller", "status_id", statusID, "controller", prefix)
	m := c.rebuild(ctx)
	if m == nil {
		return Door{}, false
	}
	c.doors = m
	c.subscribeNew(ctx)

	door, ok := c.doors.DoorForStatus(statusID)
	if !ok {
		c.logDebug("status id still unmapped after rebuild", "status_id", statusID)
	}
	return door, ok
}

// subscribeNew subscribes the live connection to controllers present in the
// current map but not yet subscribed.
func (c *Classifier) subscribeNew(ctx context.Context) {
	var added []string
	for _, ctrl := range c.doors.Controllers() {
		if _, ok := c.subscribed[ctrl]; !ok {
			added = append(added, ctrl)
		}
	}
	c.state.setMap(c.doors, c.Subscribed())
	if c.metrics != nil {
		c.metrics.MappedDoors(c.instanceID, c.doors.DoorCount())
	}

	if len(added) == 0 || c.subscribe == nil {
		return
	}
	if err := c.subscribe(ctx, added); err != nil {
		c.logWarn("failed to subscribe to new controllers", "controllers", added, "error", err)
		return
	}
	for _, ctrl := range added {
		c.subscribed[ctrl] = struct{}{}
	}
	c.state.setMap(c.doors, c.Subscribed())
}

func (c *Classifier) handleNotification(n Notification) {
	doorID, ok := c.resolveNotification(n)
	if !ok {
		if strings.HasPrefix(strings.ToUpper(n.NotificationType), actionPlanPrefix) {
			return
		}
		c.logDebug("unresolved notification",
			"type", n.NotificationType,
			"source_type", n.SourceType,
			"source_name", n.SourceName,
			"message", n.Message)
		return
	}
	if !c.doors.Allowed(doorID) {
		c.logDebug("notification for door outside partition", "door_id", doorID)
		return
	}

	notificationType := strings.ToUpper(n.NotificationType)

	c.state.setLogLine(n.Message)
	c.publish(c.channels.DoorLog(c.instanceID), DoorLogEvent{
		DoorID:           doorID,
		Log:              n.Message,
		NotificationType: notificationType,
		Timestamp:        n.Date,
		Source: LogSource{
			Type: n.SourceType,
			Name: n.SourceName,
			ID:   n.SourceID,
		},
		UserID:      n.UserID,
		PartitionID: n.PartitionID,
		State:       n.StateValues,
		Link:        n.Link,
		Raw:         n.Raw,
	}, EventDoorLog)

	in := synthesisInput{
		text:             strings.ToLower(n.Message),
		notificationType: notificationType,
	}
	if b, ok := c.baselines[doorID]; ok {
		in.baseline = &b
	}

	for _, s := range synthesize(in) {
		now := c.now()
		if c.recency.Recent(doorID, now) {
			c.logDebug("suppressing synthesized status after real frame", "door_id", doorID, "rule", s.rule)
			continue
		}
		c.publishStatus(doorID, "", s.status, true, now)
	}
}

// resolveNotification ties a notification to a door by source descriptor,
// then by free-text names in the source and the message.
func (c *Classifier) resolveNotification(n Notification) (int, bool) {
	sourceType := strings.ToLower(strings.TrimSpace(n.SourceType))

	if sourceType == "door" && n.SourceID.Valid {
		return n.SourceID.Value, true
	}

	if sourceType == "reader" {
		if n.SourceID.Valid {
			if id, ok := c.doors.ReaderByID(n.SourceID.Value); ok {
				return id, true
			}
		}
		raw := strings.ToLower(strings.TrimSpace(n.SourceName))
		if raw != "" {
			if id, ok := c.doors.ReaderByName(raw); ok {
				return id, true
			}
			stripped := stripReaderSuffix(raw)
			if id, ok := c.doors.ReaderByName(stripped); ok {
				return id, true
			}
			if id, ok := c.doors.ResolveName(stripped); ok {
				return id, true
			}
		}
	}

	if id, ok := c.doors.ResolveName(n.SourceName); ok {
		return id, true
	}
	if id, ok := c.doors.ResolveName(n.Message); ok {
		return id, true
	}

	if m := trailingTarget.FindStringSubmatch(n.Message); m != nil {
		if id, ok := c.doors.ResolveName(m[1]); ok {
			return id, true
		}
	}
	return 0, false
}

func (c *Classifier) publishStatus(doorID int, name string, status DoorStatus, synthesized bool, at time.Time) {
	if name == "" {
		name = c.doorName(doorID)
	}
	kind := EventDoorStatus
	if synthesized {
		kind = EventSynthesized
	}
	c.publish(c.channels.DoorStatus(c.instanceID), DoorStatusEvent{
		DoorID:      doorID,
		DoorName:    name,
		Status:      status,
		Synthesized: synthesized,
		Timestamp:   at.UTC(),
	}, kind)
}

func (c *Classifier) doorName(doorID int) string {
	d, _ := c.doors.DoorByID(doorID)
	return d.Name
}

func (c *Classifier) publish(channel string, payload any, kind string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(channel, payload)
	if c.metrics != nil {
		c.metrics.EventPublished(c.instanceID, kind)
	}
}

func (c *Classifier) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Classifier) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Classifier) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
