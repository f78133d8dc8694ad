package api

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
)

// DoorView is the aggregated state of one door as seen by observers.
type DoorView struct {
	ID          int                  `json:"id"`
	Name        string               `json:"name,omitempty"`
	Status      protector.DoorStatus `json:"status"`
	Synthesized bool                 `json:"synthesized"`
	UpdatedAt   *time.Time           `json:"updated_at,omitempty"`
	LastLog     string               `json:"last_log,omitempty"`
	LastLogType string               `json:"last_log_type,omitempty"`
	LastLogAt   string               `json:"last_log_ts,omitempty"`
}

// doorStore merges partial status updates per door. Fields absent from an
// update are left untouched.
type doorStore struct {
	mu    sync.RWMutex
	doors map[string]map[int]*DoorView
}

func newDoorStore() *doorStore {
	return &doorStore{doors: make(map[string]map[int]*DoorView)}
}

// entry returns the view for a door, creating it. Caller holds mu.
func (d *doorStore) entry(instanceID string, doorID int) *DoorView {
	inst, ok := d.doors[instanceID]
	if !ok {
		inst = make(map[int]*DoorView)
		d.doors[instanceID] = inst
	}
	v, ok := inst[doorID]
	if !ok {
		v = &DoorView{ID: doorID}
		inst[doorID] = v
	}
	return v
}

func (d *doorStore) applyStatus(instanceID string, payload any) error {
	evt, ok := payload.(protector.DoorStatusEvent)
	if !ok {
		return fmt.Errorf("door store: unexpected %T on door status channel", payload)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.entry(instanceID, evt.DoorID)
	v.Status = v.Status.Merge(evt.Status)
	v.Synthesized = evt.Synthesized
	if evt.DoorName != "" {
		v.Name = evt.DoorName
	}
	ts := evt.Timestamp
	v.UpdatedAt = &ts
	return nil
}

func (d *doorStore) applyLog(instanceID string, payload any) error {
	evt, ok := payload.(protector.DoorLogEvent)
	if !ok {
		return fmt.Errorf("door store: unexpected %T on door log channel", payload)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.entry(instanceID, evt.DoorID)
	v.LastLog = evt.Log
	v.LastLogType = evt.NotificationType
	v.LastLogAt = evt.Timestamp
	return nil
}

// list returns every door with state, plus every mapped door, sorted by id.
// Names from the current map win over names carried by events.
func (d *doorStore) list(instanceID string, mapped []protector.Door) []DoorView {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byID := make(map[int]DoorView, len(mapped))
	for id, v := range d.doors[instanceID] {
		byID[id] = *v
	}
	for _, door := range mapped {
		v, ok := byID[door.ID]
		if !ok {
			v = DoorView{ID: door.ID}
		}
		v.Name = door.Name
		byID[door.ID] = v
	}

	out := make([]DoorView, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// get returns one door. A mapped door without state is still found.
func (d *doorStore) get(instanceID string, doorID int, mapped []protector.Door) (DoorView, bool) {
	for _, v := range d.list(instanceID, mapped) {
		if v.ID == doorID {
			return v, true
		}
	}
	return DoorView{}, false
}
