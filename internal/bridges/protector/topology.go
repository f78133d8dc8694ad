package protector

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Topology node types.
const (
	NodeTypeDoor   = "Door"
	NodeTypeReader = "Reader"
)

// TopologyNode is one node of the system overview tree (sites, panels,
// doors, readers).
type TopologyNode struct {
	Type     string         `json:"Type"`
	ID       OptionalInt    `json:"Id"`
	Name     string         `json:"Name"`
	StatusID string         `json:"StatusId"`
	Nodes    []TopologyNode `json:"Nodes"`
}

// PartitionDoor is an entry of the partition door allowlist.
type PartitionDoor struct {
	ID   OptionalInt `json:"Id"`
	Name string      `json:"Name"`
}

// PartitionReader is an entry of the partition reader list.
type PartitionReader struct {
	ID     OptionalInt `json:"Id"`
	Name   string      `json:"Name"`
	DoorID OptionalInt `json:"DoorId"`
}

// Directory is the request/response API collaborator used to build maps.
type Directory interface {
	// PartitionDoors returns the doors of the configured partition.
	PartitionDoors(ctx context.Context) ([]PartitionDoor, error)

	// Topology returns the root of the system overview tree.
	Topology(ctx context.Context) (*TopologyNode, error)

	// PartitionReaders returns the readers of the configured partition.
	PartitionReaders(ctx context.Context) ([]PartitionReader, error)
}

// Door is a logical door of the configured partition.
type Door struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	StatusID string `json:"status_id,omitempty"`
}

// nameEntry keeps name-index insertion order for deterministic scans.
type nameEntry struct {
	name   string
	doorID int
}

// DoorMap holds the lookup tables for one connection. It is built by Mapper
// and read by the classifier; it is never mutated after Build returns.
type DoorMap struct {
	statusToDoor map[string]Door
	byID         map[int]Door
	readerByID   map[int]int
	readerByName map[string]int
	names        map[string]int
	nameOrder    []nameEntry
	allowed      map[int]struct{}
}

// NewDoorMap returns an empty map.
func NewDoorMap() *DoorMap {
	return &DoorMap{
		statusToDoor: make(map[string]Door),
		byID:         make(map[int]Door),
		readerByID:   make(map[int]int),
		readerByName: make(map[string]int),
		names:        make(map[string]int),
		allowed:      make(map[int]struct{}),
	}
}

// DoorForStatus returns the door bound to a status identifier.
func (m *DoorMap) DoorForStatus(statusID string) (Door, bool) {
	d, ok := m.statusToDoor[statusID]
	return d, ok
}

// DoorByID returns a mapped door.
func (m *DoorMap) DoorByID(doorID int) (Door, bool) {
	d, ok := m.byID[doorID]
	return d, ok
}

// ReaderByID returns the door served by a numeric reader id.
func (m *DoorMap) ReaderByID(readerID int) (int, bool) {
	id, ok := m.readerByID[readerID]
	return id, ok
}

// ReaderByName returns the door served by a reader key (lowercased raw name
// or suffix-stripped name).
func (m *DoorMap) ReaderByName(key string) (int, bool) {
	id, ok := m.readerByName[key]
	return id, ok
}

// Allowed reports whether a door belongs to the configured partition.
func (m *DoorMap) Allowed(doorID int) bool {
	_, ok := m.allowed[doorID]
	return ok
}

// AllowedCount returns the size of the partition allowlist.
func (m *DoorMap) AllowedCount() int {
	return len(m.allowed)
}

// DoorCount returns the number of mapped status channels.
func (m *DoorMap) DoorCount() int {
	return len(m.statusToDoor)
}

// ReaderCount returns the number of reader bindings by id and by name.
func (m *DoorMap) ReaderCount() (byID, byName int) {
	return len(m.readerByID), len(m.readerByName)
}

// Doors returns the mapped doors sorted by id.
func (m *DoorMap) Doors() []Door {
	doors := make([]Door, 0, len(m.byID))
	for _, d := range m.byID {
		doors = append(doors, d)
	}
	sort.Slice(doors, func(i, j int) bool { return doors[i].ID < doors[j].ID })
	return doors
}

// Controllers returns the sorted unique controller prefixes of all mapped
// status identifiers.
func (m *DoorMap) Controllers() []string {
	seen := make(map[string]struct{})
	for sid := range m.statusToDoor {
		if prefix := ControllerPrefix(sid); prefix != "" {
			seen[prefix] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ResolveName maps free text to a door: exact match of the normalised or
// suffix-stripped text on the name index, then substring containment in
// either direction. The first hit wins.
func (m *DoorMap) ResolveName(text string) (int, bool) {
	norm := normalizeName(text)
	if norm == "" {
		return 0, false
	}

	variants := []string{norm}
	if stripped := stripReaderSuffix(norm); stripped != "" && stripped != norm {
		variants = append(variants, stripped)
	}

	for _, v := range variants {
		if id, ok := m.names[v]; ok {
			return id, true
		}
	}
	for _, v := range variants {
		for _, e := range m.nameOrder {
			if strings.Contains(v, e.name) || strings.Contains(e.name, v) {
				return e.doorID, true
			}
		}
	}
	return 0, false
}

func (m *DoorMap) addName(name string, doorID int) {
	if _, exists := m.names[name]; !exists {
		m.nameOrder = append(m.nameOrder, nameEntry{name: name, doorID: doorID})
	} else {
		for i := range m.nameOrder {
			if m.nameOrder[i].name == name {
				m.nameOrder[i].doorID = doorID
				break
			}
		}
	}
	m.names[name] = doorID
}

func (m *DoorMap) addReader(rawName string, doorID int) {
	raw := strings.ToLower(strings.TrimSpace(rawName))
	if raw == "" {
		return
	}
	m.readerByName[raw] = doorID
	if base := stripReaderSuffix(raw); base != "" && base != raw {
		m.readerByName[base] = doorID
	}
}

// ControllerPrefix returns the text before the first "::" of a status id.
func ControllerPrefix(statusID string) string {
	prefix, _, _ := strings.Cut(statusID, "::")
	return strings.TrimSpace(prefix)
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	readerSuffix  = regexp.MustCompile(`\s+reader(\s+\d+)?$`)
	doorSuffix    = regexp.MustCompile(`\s+(door|gate)$`)
)

// normalizeName lowercases, trims and collapses whitespace.
func normalizeName(s string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// stripReaderSuffix removes a trailing "reader" or "reader N", then a
// trailing "door" or "gate".
func stripReaderSuffix(s string) string {
	s = normalizeName(s)
	s = readerSuffix.ReplaceAllString(s, "")
	s = doorSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Mapper builds DoorMaps from the Directory.
type Mapper struct {
	dir    Directory
	logger Logger
}

// NewMapper creates a mapper. logger may be nil.
func NewMapper(dir Directory, logger Logger) *Mapper {
	return &Mapper{dir: dir, logger: logger}
}

// Build fetches the allowlist, topology and partition readers and returns
// the resulting map. Fetch failures are logged and produce an empty or
// partial map; Build never fails.
func (mp *Mapper) Build(ctx context.Context) *DoorMap {
	m := NewDoorMap()
	if mp.dir == nil {
		return m
	}

	doors, err := mp.dir.PartitionDoors(ctx)
	if err != nil {
		mp.logError("failed to fetch partition doors", err)
	}
	for _, d := range doors {
		if d.ID.Valid {
			m.allowed[d.ID.Value] = struct{}{}
		}
	}

	root, err := mp.dir.Topology(ctx)
	if err != nil {
		mp.logError("failed to fetch topology", err)
		return m
	}
	if root != nil {
		for i := range root.Nodes {
			mp.walk(m, &root.Nodes[i], nil)
		}
	}

	readers, err := mp.dir.PartitionReaders(ctx)
	if err != nil {
		mp.logError("failed to fetch partition readers", err)
	}
	merged := 0
	for _, r := range readers {
		if !r.ID.Valid || !r.DoorID.Valid || !m.Allowed(r.DoorID.Value) {
			continue
		}
		m.readerByID[r.ID.Value] = r.DoorID.Value
		m.addReader(r.Name, r.DoorID.Value)
		merged++
	}

	byID, byName := m.ReaderCount()
	mp.logDebug("built door maps",
		"allowed_doors", m.AllowedCount(),
		"doors", m.DoorCount(),
		"readers_by_id", byID,
		"readers_from_partition", merged,
		"readers_by_name", byName,
		"names", len(m.names))

	return m
}

// walk visits the children of node. door is the enclosing allowed door, or
// nil when outside any allowed door.
func (mp *Mapper) walk(m *DoorMap, node *TopologyNode, door *Door) {
	for i := range node.Nodes {
		sub := &node.Nodes[i]

		switch {
		case sub.Type == NodeTypeDoor:
			if !sub.ID.Valid || !m.Allowed(sub.ID.Value) {
				mp.walk(m, sub, nil)
				continue
			}
			d := Door{ID: sub.ID.Value, Name: sub.Name, StatusID: sub.StatusID}
			m.byID[d.ID] = d
			if sub.StatusID != "" {
				m.statusToDoor[sub.StatusID] = d
			}
			if name := normalizeName(sub.Name); name != "" {
				m.addName(name, d.ID)
			}
			mp.walk(m, sub, &d)

		case sub.Type == NodeTypeReader && door != nil:
			if sub.ID.Valid {
				m.readerByID[sub.ID.Value] = door.ID
			}
			m.addReader(sub.Name, door.ID)
			mp.walk(m, sub, door)

		default:
			mp.walk(m, sub, door)
		}
	}
}

func (mp *Mapper) logError(msg string, err error) {
	if mp.logger != nil {
		mp.logger.Error(msg, "error", err)
	}
}

func (mp *Mapper) logDebug(msg string, keysAndValues ...any) {
	if mp.logger != nil {
		mp.logger.Debug(msg, keysAndValues...)
	}
}
