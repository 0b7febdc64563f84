package sdo

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/internal/clock"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/transfer"
)

// ServerParamsObject serves sub-index 1..3 of the SDO server parameter
// record of an additional channel (0x1201..0x127F). Reads return the
// parameters of Server, writes reconfigure it. When Variable is set, it
// is kept in sync with the written values.
type ServerParamsObject struct {
	Server   *SDOServer
	Subindex uint8
	Variable *od.Variable
}

func (o *ServerParamsObject) Attribute() uint8 {
	if o.Variable != nil {
		return o.Variable.Attribute
	}
	return od.AttributeSdoRw
}

func (o *ServerParamsObject) Size() (uint64, bool) {
	if o.Subindex == 3 {
		return 1, true
	}
	return 4, true
}

func (o *ServerParamsObject) Download(req *transfer.Request) error {
	if !req.IsLast() {
		return nil
	}
	data := req.Bytes()
	expected, _ := o.Size()
	if uint64(len(data)) != expected {
		return od.ErrTypeMismatch
	}
	var update func(Params) Params
	switch o.Subindex {
	case 1:
		cobId := binary.LittleEndian.Uint32(data)
		update = func(p Params) Params { p.CobIdClientToServer = cobId; return p }
	case 2:
		cobId := binary.LittleEndian.Uint32(data)
		update = func(p Params) Params { p.CobIdServerToClient = cobId; return p }
	case 3:
		nodeId := data[0]
		update = func(p Params) Params { p.NodeId = nodeId; return p }
	default:
		return od.ErrSubNotExist
	}
	if err := o.Server.requestParams(update); err != nil {
		return err
	}
	if o.Variable != nil {
		return o.Variable.Write(data)
	}
	return nil
}

func (o *ServerParamsObject) Upload(req *transfer.Request) error {
	params := o.Server.currentParams()
	switch o.Subindex {
	case 1:
		req.BeginSend(binary.LittleEndian.AppendUint32(nil, params.CobIdClientToServer))
	case 2:
		req.BeginSend(binary.LittleEndian.AppendUint32(nil, params.CobIdServerToClient))
	case 3:
		req.BeginSend([]byte{params.NodeId})
	default:
		return od.ErrSubNotExist
	}
	return nil
}

// ParamsFromEntry reads the parameters of an SDO parameter record
// (0x1200+n or 0x1280+n). Sub-index 3 is optional.
func ParamsFromEntry(entry *od.Entry) (Params, error) {
	params := Params{}
	cobIds := []*uint32{&params.CobIdClientToServer, &params.CobIdServerToClient}
	for i, cobId := range cobIds {
		variable, err := entry.SubIndex(uint8(i + 1))
		if err != nil {
			return params, err
		}
		value, err := variable.Value()
		if err != nil {
			return params, err
		}
		v, ok := value.(uint32)
		if !ok {
			return params, od.ErrTypeMismatch
		}
		*cobId = v
	}
	variable, err := entry.SubIndex(3)
	if err != nil {
		return params, nil
	}
	value, err := variable.Value()
	if err != nil {
		return params, err
	}
	nodeId, ok := value.(uint8)
	if !ok {
		return params, od.ErrTypeMismatch
	}
	params.NodeId = nodeId
	return params, nil
}

// ServeServerParams serves the record at index of the dictionary of store
// with a [ServerParamsObject] per sub-index, so that writing it
// reconfigures server.
func ServeServerParams(store *DictionaryStore, index uint16, server *SDOServer) {
	store.mu.RLock()
	odict := store.od
	store.mu.RUnlock()
	for subindex := uint8(1); subindex <= ParamsHighestSubindex; subindex++ {
		object := &ServerParamsObject{Server: server, Subindex: subindex}
		if odict != nil {
			variable, err := odict.Variable(index, subindex)
			if err != nil && subindex == ParamsHighestSubindex {
				continue
			}
			object.Variable = variable
		}
		store.AddObject(index, subindex, object)
	}
}

// NewSDOServerChannels creates a server for every additional SDO server
// parameter record (0x1201..0x127F) in the dictionary of store. Each
// record is then served by [ServeServerParams].
func NewSDOServerChannels(
	bm *canopen.BusManager,
	logger *slog.Logger,
	clk clock.Clock,
	store *DictionaryStore,
	nodeId uint8,
) ([]*SDOServer, error) {
	store.mu.RLock()
	odict := store.od
	store.mu.RUnlock()
	if odict == nil {
		return nil, nil
	}
	var servers []*SDOServer
	closeAll := func() {
		for _, server := range servers {
			server.Close()
		}
	}
	for n := uint16(1); n <= uint16(canopen.NodeIdMax); n++ {
		index := od.EntrySDOServerParameter + n
		entry := odict.Index(index)
		if entry == nil {
			continue
		}
		params, err := ParamsFromEntry(entry)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("x%x : %w", index, err)
		}
		server, err := NewSDOServerChannel(bm, logger, clk, store, nodeId, params)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("x%x : %w", index, err)
		}
		ServeServerParams(store, index, server)
		servers = append(servers, server)
	}
	return servers, nil
}
