package protector

import (
	"sync"
	"time"
)

// hubState holds the per-instance connection diagnostics. The receive loop
// writes it; Status and the API read it concurrently.
type hubState struct {
	instanceID string
	now        func() time.Time

	mu                    sync.RWMutex
	phase                 Phase
	connected             bool
	lastError             string
	lastEventAt           time.Time
	lastConnectAt         time.Time
	mappedDoors           int
	doors                 []Door
	wsURL                 string
	connectionToken       string
	subscribedControllers []string
	doorEventsSeen        uint64
	nonDoorEventsSeen     uint64
	lastStatusType        string
	lastStatusID          string
	lastDoorPayload       *DoorStatus
	lastLogLine           string
	reconnects            uint64
}

func newHubState(instanceID string, now func() time.Time) *hubState {
	if now == nil {
		now = time.Now
	}
	return &hubState{instanceID: instanceID, now: now, phase: PhaseIdle}
}

// snapshot returns a copy safe to publish.
func (s *hubState) snapshot() HubStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := HubStatus{
		InstanceID:            s.instanceID,
		Phase:                 s.phase,
		Connected:             s.connected,
		LastError:             s.lastError,
		MappedDoors:           s.mappedDoors,
		WSURL:                 s.wsURL,
		ConnectionToken:       s.connectionToken,
		SubscribedControllers: append([]string{}, s.subscribedControllers...),
		DoorEventsSeen:        s.doorEventsSeen,
		NonDoorEventsSeen:     s.nonDoorEventsSeen,
		LastStatusType:        s.lastStatusType,
		LastStatusID:          s.lastStatusID,
		LastLogLine:           s.lastLogLine,
		Reconnects:            s.reconnects,
		Timestamp:             s.now().UTC(),
	}
	if !s.lastEventAt.IsZero() {
		t := s.lastEventAt
		st.LastEventAt = &t
	}
	if !s.lastConnectAt.IsZero() {
		t := s.lastConnectAt
		st.LastConnectAt = &t
	}
	if s.lastDoorPayload != nil {
		p := *s.lastDoorPayload
		st.LastDoorPayload = &p
	}
	return st
}

func (s *hubState) update(fn func(s *hubState)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *hubState) setPhase(p Phase, connected bool) {
	s.update(func(s *hubState) {
		s.phase = p
		s.connected = connected
	})
}

func (s *hubState) setError(err error) {
	s.update(func(s *hubState) {
		s.phase = PhaseError
		s.connected = false
		if err != nil {
			s.lastError = err.Error()
		}
	})
}

func (s *hubState) setSession(wsURL, token string) {
	s.update(func(s *hubState) {
		s.wsURL = wsURL
		s.connectionToken = token
	})
}

func (s *hubState) setMap(m *DoorMap, controllers []string) {
	doors := m.Doors()
	s.update(func(s *hubState) {
		s.mappedDoors = m.DoorCount()
		s.doors = doors
		s.subscribedControllers = append([]string{}, controllers...)
	})
}

// mappedDoorList returns the doors of the current map.
func (s *hubState) mappedDoorList() []Door {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Door{}, s.doors...)
}

func (s *hubState) markConnected() {
	s.update(func(s *hubState) {
		s.lastConnectAt = s.now().UTC()
		s.lastError = ""
	})
}

func (s *hubState) markReconnect() {
	s.update(func(s *hubState) { s.reconnects++ })
}

func (s *hubState) markEvent() {
	s.update(func(s *hubState) { s.lastEventAt = s.now().UTC() })
}

func (s *hubState) recordStatus(statusType, statusID string) {
	s.update(func(s *hubState) {
		s.lastStatusType = statusType
		s.lastStatusID = statusID
	})
}

func (s *hubState) recordDoorEvent(payload DoorStatus) {
	s.update(func(s *hubState) {
		s.doorEventsSeen++
		p := payload
		s.lastDoorPayload = &p
	})
}

func (s *hubState) recordNonDoorEvent() {
	s.update(func(s *hubState) { s.nonDoorEventsSeen++ })
}

func (s *hubState) setLogLine(line string) {
	s.update(func(s *hubState) { s.lastLogLine = line })
}

func (s *hubState) currentPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}
