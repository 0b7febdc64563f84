package sdo

import (
	"sync"

	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/transfer"
)

// ObjectStore resolves the objects addressed by an SDO server.
// Lookup errors are converted with [ToAbort], e.g. [od.ErrIdxNotExist].
type ObjectStore interface {
	Lookup(index uint16, subindex uint8) (Object, error)
}

// Object is one addressable value of an [ObjectStore].
//
// Download is called with the request of a download each time new
// data has been staged, req.IsLast reports whether the value is complete.
// Block downloads only call it once, when the value is complete.
// Upload is called once when an upload starts and must begin sending the
// value with req.BeginSend.
//
// Both are called with the server lock held and must not use the server.
type Object interface {
	Attribute() uint8
	// Size returns the size of fixed size values
	Size() (size uint64, fixed bool)
	Download(req *transfer.Request) error
	Upload(req *transfer.Request) error
}

// DictionaryStore serves the variables of an [od.ObjectDictionary].
// Other objects can be added on top with [DictionaryStore.AddObject].
type DictionaryStore struct {
	mu      sync.RWMutex
	od      *od.ObjectDictionary
	objects map[uint32]Object
}

func NewDictionaryStore(odict *od.ObjectDictionary) *DictionaryStore {
	return &DictionaryStore{od: odict, objects: make(map[uint32]Object)}
}

func objectKey(index uint16, subindex uint8) uint32 {
	return uint32(index)<<8 | uint32(subindex)
}

// AddObject serves object at (index, subindex) instead of the dictionary
func (s *DictionaryStore) AddObject(index uint16, subindex uint8, object Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(index, subindex)] = object
}

// SetDictionary replaces the dictionary, e.g. after reloading an EDS
func (s *DictionaryStore) SetDictionary(odict *od.ObjectDictionary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.od = odict
}

func (s *DictionaryStore) Lookup(index uint16, subindex uint8) (Object, error) {
	s.mu.RLock()
	object, ok := s.objects[objectKey(index, subindex)]
	odict := s.od
	s.mu.RUnlock()
	if ok {
		return object, nil
	}
	if odict == nil {
		return nil, od.ErrOdMissing
	}
	variable, err := odict.Variable(index, subindex)
	if err != nil {
		return nil, err
	}
	return VariableObject{variable}, nil
}

// VariableObject serves an [od.Variable]
type VariableObject struct {
	*od.Variable
}

func (v VariableObject) Attribute() uint8 {
	return v.Variable.Attribute
}

func (v VariableObject) Size() (uint64, bool) {
	size := od.DataTypeSize(v.DataType)
	return uint64(size), size > 0
}

func (v VariableObject) Download(req *transfer.Request) error {
	if !req.IsLast() {
		return nil
	}
	return v.Write(req.Bytes())
}

func (v VariableObject) Upload(req *transfer.Request) error {
	req.BeginSend(v.Bytes())
	return nil
}

// Domain is an [Object] of any size backed by functions, e.g. a file.
// A nil Read or Write makes it write only or read only.
type Domain struct {
	Read  func() ([]byte, error)
	Write func(data []byte) error
}

func (d *Domain) Attribute() uint8 {
	var attribute uint8
	if d.Read != nil {
		attribute |= od.AttributeSdoR
	}
	if d.Write != nil {
		attribute |= od.AttributeSdoW
	}
	return attribute
}

func (d *Domain) Size() (uint64, bool) {
	return 0, false
}

func (d *Domain) Download(req *transfer.Request) error {
	if !req.IsLast() {
		return nil
	}
	return d.Write(req.Bytes())
}

func (d *Domain) Upload(req *transfer.Request) error {
	data, err := d.Read()
	if err != nil {
		return err
	}
	req.BeginSend(data)
	return nil
}
