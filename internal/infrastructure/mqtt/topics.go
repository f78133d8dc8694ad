package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes for the protector bridge.
//
// Per-instance topics use: protector/{instance}/{category}[/{id}/{kind}]
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "protector"

	// TopicPrefixSystem is the base for process-level topics.
	TopicPrefixSystem = "protector/system"
)

// Door topic kinds.
const (
	DoorKindStatus = "status"
	DoorKindLog    = "log"
	DoorKindEcho   = "echo"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.DoorStatus("hq", 12)
//	// Returns: "protector/hq/door/12/status"
type Topics struct{}

// =============================================================================
// Instance Topics
// =============================================================================

// DoorStatus returns the retained topic carrying a door's status updates.
//
// Example: protector/hq/door/12/status
func (Topics) DoorStatus(instanceID string, doorID int) string {
	return fmt.Sprintf("%s/%s/door/%d/%s", TopicPrefix, instanceID, doorID, DoorKindStatus)
}

// DoorLog returns the topic carrying a door's activity log lines.
//
// Example: protector/hq/door/12/log
func (Topics) DoorLog(instanceID string, doorID int) string {
	return fmt.Sprintf("%s/%s/door/%d/%s", TopicPrefix, instanceID, doorID, DoorKindLog)
}

// DoorEcho returns the inbound topic on which presentation layers publish
// optimistic door status echoes.
//
// Example: protector/hq/door/12/echo
func (Topics) DoorEcho(instanceID string, doorID int) string {
	return fmt.Sprintf("%s/%s/door/%d/%s", TopicPrefix, instanceID, doorID, DoorKindEcho)
}

// Hub returns the retained topic carrying an instance's hub snapshot.
//
// Example: protector/hq/hub
func (Topics) Hub(instanceID string) string {
	return fmt.Sprintf("%s/%s/hub", TopicPrefix, instanceID)
}

// =============================================================================
// Process Topics
// =============================================================================

// BridgeHealth returns the topic for periodic bridge health.
//
// Example: protector/system/health
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health", TopicPrefixSystem)
}

// SystemStatus returns the online/offline status topic (LWT).
//
// Example: protector/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDoorEchoes returns a pattern matching every echo topic of an instance.
//
// Pattern: protector/hq/door/+/echo
func (Topics) AllDoorEchoes(instanceID string) string {
	return fmt.Sprintf("%s/%s/door/+/%s", TopicPrefix, instanceID, DoorKindEcho)
}

// AllTopics returns a pattern matching all bridge topics.
//
// Pattern: protector/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// DoorTopic is a parsed per-door topic.
type DoorTopic struct {
	InstanceID string
	DoorID     int
	Kind       string
}

// ParseDoorTopic splits protector/{instance}/door/{id}/{kind}.
func ParseDoorTopic(topic string) (DoorTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[2] != "door" || parts[1] == "" {
		return DoorTopic{}, false
	}
	id, err := strconv.Atoi(parts[3])
	if err != nil {
		return DoorTopic{}, false
	}
	return DoorTopic{InstanceID: parts[1], DoorID: id, Kind: parts[4]}, true
}
