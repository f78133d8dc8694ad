package dispatch

import "fmt"

// ChannelPrefix is the base for all bus channel names.
const ChannelPrefix = "protector"

// Channels provides builders for per-instance bus channel names.
//
//	ch := dispatch.Channels{}
//	ch.DoorStatus("site-a") // "protector.site-a.door_status"
type Channels struct{}

// HubStatus returns the channel carrying connection snapshots.
//
// Example: protector.site-a.hub
func (Channels) HubStatus(instanceID string) string {
	return fmt.Sprintf("%s.%s.hub", ChannelPrefix, instanceID)
}

// DoorStatus returns the channel carrying partial door status updates.
//
// Example: protector.site-a.door_status
func (Channels) DoorStatus(instanceID string) string {
	return fmt.Sprintf("%s.%s.door_status", ChannelPrefix, instanceID)
}

// DoorLog returns the channel carrying resolved door notifications.
//
// Example: protector.site-a.door_log
func (Channels) DoorLog(instanceID string) string {
	return fmt.Sprintf("%s.%s.door_log", ChannelPrefix, instanceID)
}

// All returns every channel for an instance.
func (c Channels) All(instanceID string) []string {
	return []string{
		c.HubStatus(instanceID),
		c.DoorStatus(instanceID),
		c.DoorLog(instanceID),
	}
}
