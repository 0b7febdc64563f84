package od

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ObjectDictionary holds the entries of a node, addressed by index.
type ObjectDictionary struct {
	logger        *slog.Logger
	mu            sync.RWMutex
	entriesByIdx  map[uint16]*Entry
	entriesByName map[string]*Entry
}

// An Entry is an object at one index, either a single variable (VAR,
// DOMAIN) or a list of sub variables (ARRAY, RECORD).
type Entry struct {
	Index      uint16
	Name       string
	ObjectType uint8
	variable   *Variable
	subs       map[uint8]*Variable
}

func NewOD() *ObjectDictionary {
	return &ObjectDictionary{
		logger:        slog.Default().With("service", "[OD]"),
		entriesByIdx:  make(map[uint16]*Entry),
		entriesByName: make(map[string]*Entry),
	}
}

func (od *ObjectDictionary) addEntry(entry *Entry) {
	od.mu.Lock()
	defer od.mu.Unlock()
	if _, exists := od.entriesByIdx[entry.Index]; exists {
		od.logger.Warn("overwritting entry", "index", fmt.Sprintf("x%x", entry.Index))
	}
	od.entriesByIdx[entry.Index] = entry
	od.entriesByName[entry.Name] = entry
}

// AddVariableType adds a VAR entry at index, value is parsed from its
// string representation
func (od *ObjectDictionary) AddVariableType(
	index uint16,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	variable, err := NewVariable(0, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	objectType := ObjectTypeVAR
	if datatype == DOMAIN {
		objectType = ObjectTypeDOMAIN
	}
	od.addEntry(&Entry{Index: index, Name: name, ObjectType: objectType, variable: variable})
	return variable, nil
}

// AddRecord adds an empty RECORD (or ARRAY) entry, sub variables are
// added with [Entry.AddMember]
func (od *ObjectDictionary) AddRecord(index uint16, name string, objectType uint8) (*Entry, error) {
	if objectType != ObjectTypeRECORD && objectType != ObjectTypeARRAY {
		return nil, fmt.Errorf("object type %v is not a record or an array", objectType)
	}
	entry := &Entry{Index: index, Name: name, ObjectType: objectType, subs: make(map[uint8]*Variable)}
	od.addEntry(entry)
	return entry, nil
}

// Index returns the entry at index, nil if it does not exist
func (od *ObjectDictionary) Index(index uint16) *Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.entriesByIdx[index]
}

// Find returns the entry with the given name, nil if it does not exist
func (od *ObjectDictionary) Find(name string) *Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	return od.entriesByName[name]
}

// Indexes returns all indexes in increasing order
func (od *ObjectDictionary) Indexes() []uint16 {
	od.mu.RLock()
	defer od.mu.RUnlock()
	indexes := make([]uint16, 0, len(od.entriesByIdx))
	for index := range od.entriesByIdx {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes
}

// Variable returns the variable at (index, subindex)
func (od *ObjectDictionary) Variable(index uint16, subindex uint8) (*Variable, error) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	return entry.SubIndex(subindex)
}

// AddMember adds a sub variable to a RECORD or ARRAY entry
func (entry *Entry) AddMember(variable *Variable) error {
	if entry.subs == nil {
		return fmt.Errorf("add member not supported for object type %v", entry.ObjectType)
	}
	entry.subs[variable.SubIndex] = variable
	return nil
}

// SubIndex returns the [Variable] at subindex
func (entry *Entry) SubIndex(subindex uint8) (*Variable, error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	if entry.variable != nil {
		if subindex != 0 {
			return nil, ErrSubNotExist
		}
		return entry.variable, nil
	}
	variable, ok := entry.subs[subindex]
	if !ok {
		return nil, ErrSubNotExist
	}
	return variable, nil
}

// SubCount is the number of variables in the entry
func (entry *Entry) SubCount() int {
	if entry.variable != nil {
		return 1
	}
	return len(entry.subs)
}
