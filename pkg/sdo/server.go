package sdo

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/internal/clock"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/transfer"
)

// SDOServer answers the requests of one SDO client on one channel,
// reading and writing the objects of an [ObjectStore].
//
// Every received frame and every timer expiry is processed under the
// server lock. Frames produced by a transition are sent once it is over,
// then the transfer timer is programmed from the new state.
type SDOServer struct {
	bm           *canopen.BusManager
	logger       *slog.Logger
	mu           sync.Mutex
	timer        *transferTimer
	store        ObjectStore
	nodeId       uint8
	params       Params
	paramsMu     sync.Mutex // params for readers not holding mu, pending
	pending      *Params
	valid        bool
	rxId         uint32
	txId         uint32
	state        ServerState
	timeout      time.Duration
	blockTimeout time.Duration
	blockMaxSize uint8
	tx           []SDOMessage

	// Current transfer
	index    uint16
	subindex uint8
	object   Object
	req      *transfer.Request
	toggle   uint8

	// Block transfers
	blockSize       uint8
	blockCRCEnabled bool
	ackSeq          uint8
	seqSent         uint8
	rawReceived     uint64
	blockStart      uint64
	blockStarted    bool
	lastSent        bool
	noData          uint8
	discarding      bool
	timeoutStrike   bool
}

// NewSDOServer creates a server for node nodeId on its default channel.
// A nil logger defaults to slog.Default and a nil clock to the real clock.
func NewSDOServer(
	bm *canopen.BusManager,
	logger *slog.Logger,
	clk clock.Clock,
	store ObjectStore,
	nodeId uint8,
) (*SDOServer, error) {
	return newSDOServer(bm, logger, clk, store, nodeId, DefaultServerParams(nodeId))
}

// NewSDOServerChannel creates a server for an additional channel of node
// nodeId, e.g. from a 0x1201..0x127F record. Unlike the default channel,
// params may not use restricted identifiers.
func NewSDOServerChannel(
	bm *canopen.BusManager,
	logger *slog.Logger,
	clk clock.Clock,
	store ObjectStore,
	nodeId uint8,
	params Params,
) (*SDOServer, error) {
	disabled := Params{CobIdClientToServer: CobIdInvalid, CobIdServerToClient: CobIdInvalid}
	if err := disabled.Check(params); err != nil {
		return nil, fmt.Errorf("%w : channel %v", ErrInvalidArgs, params)
	}
	return newSDOServer(bm, logger, clk, store, nodeId, params)
}

func newSDOServer(
	bm *canopen.BusManager,
	logger *slog.Logger,
	clk clock.Clock,
	store ObjectStore,
	nodeId uint8,
	params Params,
) (*SDOServer, error) {
	if bm == nil || store == nil || !canopen.IsValidNodeId(nodeId) {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &SDOServer{
		bm:           bm,
		logger:       logger.With("service", "[SERVER]"),
		store:        store,
		nodeId:       nodeId,
		state:        ServerWaiting,
		timeout:      DefaultServerTimeout,
		blockTimeout: DefaultBlockTimeout,
		blockMaxSize: BlockMaxSize,
		req:          transfer.New(nil),
	}
	s.timer = newTransferTimer(clk, s.onTimeout)
	if err := s.applyParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SDOServer) applyParams(params Params) error {
	if s.rxId != 0 {
		s.bm.Unsubscribe(s.rxId, false, s)
	}
	s.paramsMu.Lock()
	s.params = params
	s.paramsMu.Unlock()
	s.valid = params.Valid()
	s.rxId, s.txId = 0, 0
	if !s.valid {
		s.logger.Info("channel disabled", "params", params)
		return nil
	}
	s.rxId = CanId(params.CobIdClientToServer)
	s.txId = CanId(params.CobIdServerToClient)
	return s.bm.Subscribe(s.rxId, false, s)
}

// SetParams changes the communication parameters of the channel.
// The CAN identifiers may only be changed while the channel is invalid.
func (s *SDOServer) SetParams(params Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.InTransfer() {
		return ErrBusy
	}
	if err := s.params.Check(params); err != nil {
		return err
	}
	s.paramsMu.Lock()
	s.pending = nil
	s.paramsMu.Unlock()
	return s.applyParams(params)
}

// requestParams changes the channel from an object callback, which may
// run within a transition of s itself. The change is checked right away
// and applied once s has sent its reply and no transfer is open.
func (s *SDOServer) requestParams(update func(Params) Params) error {
	s.paramsMu.Lock()
	current := s.params
	if s.pending != nil {
		current = *s.pending
	}
	next := update(current)
	if err := current.Check(next); err != nil {
		s.paramsMu.Unlock()
		return err
	}
	s.pending = &next
	s.paramsMu.Unlock()

	if s.mu.TryLock() {
		s.applyPending()
		s.mu.Unlock()
		return nil
	}
	// Held by a transition, whose commit applies the change. This covers
	// the case where that commit already went past it.
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.applyPending()
	}()
	return nil
}

// applyPending applies the change of [SDOServer.requestParams], mu held
func (s *SDOServer) applyPending() {
	if s.state.InTransfer() {
		return
	}
	s.paramsMu.Lock()
	pending := s.pending
	s.pending = nil
	s.paramsMu.Unlock()
	if pending == nil {
		return
	}
	if err := s.applyParams(*pending); err != nil {
		s.logger.Warn("failed to apply channel parameters", "params", *pending, "err", err)
		return
	}
	s.logger.Info("channel parameters changed", "params", *pending)
}

// currentParams returns the parameters including a change not applied yet
func (s *SDOServer) currentParams() Params {
	s.paramsMu.Lock()
	defer s.paramsMu.Unlock()
	if s.pending != nil {
		return *s.pending
	}
	return s.params
}

func (s *SDOServer) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *SDOServer) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetTimeout sets the inactivity timeout of a transfer
func (s *SDOServer) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// SetTimeoutBlockTransfer sets the timeout between two segments of a
// block download, after which the segments received so far are acknowledged.
func (s *SDOServer) SetTimeoutBlockTransfer(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockTimeout = timeout
}

// SetBlockMaxSize sets the number of segments per block offered to
// the client for block downloads
func (s *SDOServer) SetBlockMaxSize(size uint8) error {
	if size < BlockMinSize || size > BlockMaxSize {
		return ErrInvalidArgs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockMaxSize = size
	return nil
}

// SetStorage replaces the storage of received values, e.g. with a
// [transfer.Fixed] buffer on constrained targets
func (s *SDOServer) SetStorage(storage transfer.Storage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.InTransfer() {
		return ErrBusy
	}
	s.req = transfer.New(storage)
	return nil
}

// Stop aborts any transfer and ignores requests until [SDOServer.Start]
func (s *SDOServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.InTransfer() {
		s.abort(AbortDataDeviceState)
	}
	s.state = ServerStopped
	s.commit()
	s.logger.Info("stopped")
}

func (s *SDOServer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ServerStopped {
		s.state = ServerWaiting
		s.logger.Info("started")
	}
}

// Close stops the server and releases its identifier
func (s *SDOServer) Close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paramsMu.Lock()
	s.pending = nil
	s.paramsMu.Unlock()
	if s.rxId != 0 {
		s.bm.Unsubscribe(s.rxId, false, s)
		s.rxId = 0
	}
	s.valid = false
}

// Handle [SDOServer] related RX CAN frames
func (s *SDOServer) Handle(frame can.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ServerStopped || !s.valid {
		return
	}
	if frame.DLC != 8 {
		if s.state.InTransfer() {
			s.logger.Warn("[RX] unexpected frame length", "dlc", frame.DLC)
			s.abort(AbortCmd)
			s.commit()
		}
		return
	}
	s.timeoutStrike = false
	s.process(SDOMessage{raw: frame.Data})
	s.commit()
}

func (s *SDOServer) process(rx SDOMessage) {
	if rx.IsAbort() {
		if s.state.InTransfer() {
			code := rx.GetAbortCode()
			s.logger.Info("[RX] client abort",
				"index", fmt.Sprintf("x%x", s.index),
				"subindex", fmt.Sprintf("x%x", s.subindex),
				"code", fmt.Sprintf("x%x", uint32(code)),
				"description", code.Description(),
			)
			s.reset()
		}
		return
	}
	next, err := s.transition(rx)
	if err != nil {
		s.abort(err)
		return
	}
	s.state = next
	if next == ServerWaiting {
		s.reset()
	}
}

func (s *SDOServer) transition(rx SDOMessage) (ServerState, error) {
	switch s.state {
	case ServerWaiting:
		return s.rxInitiate(rx)
	case ServerDownloadSegment:
		return s.rxDownloadSegment(rx)
	case ServerUploadSegment:
		return s.rxUploadSegment(rx)
	case ServerBlockDownloadSub:
		return s.rxDownloadBlockSubBlock(rx)
	case ServerBlockDownloadEnd:
		return s.rxDownloadBlockEnd(rx)
	case ServerBlockUploadSub:
		return s.rxUploadBlockSubBlock(rx)
	case ServerBlockUploadEnd:
		return s.rxUploadBlockEnd(rx)
	}
	return s.state, AbortCmd
}

func (s *SDOServer) rxInitiate(rx SDOMessage) (ServerState, error) {
	s.index = rx.GetIndex()
	s.subindex = rx.GetSubindex()
	switch rx.Command() {
	case csDownloadInitiate:
		if err := s.open(od.AttributeSdoW); err != nil {
			return ServerWaiting, err
		}
		return s.rxDownloadInitiate(rx)
	case csUploadInitiate:
		if err := s.open(od.AttributeSdoR); err != nil {
			return ServerWaiting, err
		}
		return s.rxUploadInitiate(rx)
	case csBlockDownload:
		if rx.raw[0]&0x01 != 0 {
			return ServerWaiting, AbortCmd
		}
		if err := s.open(od.AttributeSdoW); err != nil {
			return ServerWaiting, err
		}
		return s.rxDownloadBlockInitiate(rx)
	case csBlockUpload:
		if rx.raw[0]&0x03 != 0 {
			return ServerWaiting, AbortCmd
		}
		if err := s.open(od.AttributeSdoR); err != nil {
			return ServerWaiting, err
		}
		return s.rxUploadBlockInitiate(rx)
	}
	s.logger.Warn("[RX] unknown command specifier", "raw", rx.raw)
	return ServerWaiting, AbortCmd
}

// open resolves the addressed object and checks its access
func (s *SDOServer) open(access uint8) error {
	object, err := s.store.Lookup(s.index, s.subindex)
	if err != nil {
		return err
	}
	attribute := object.Attribute()
	if attribute&od.AttributeSdoRw == 0 {
		return AbortUnsupportedAccess
	}
	if attribute&access == 0 {
		if access == od.AttributeSdoW {
			return AbortReadOnly
		}
		return AbortWriteOnly
	}
	s.object = object
	return nil
}

// checkObjectSize compares an indicated size to a fixed size object
func (s *SDOServer) checkObjectSize(size uint64) error {
	expected, fixed := s.object.Size()
	if !fixed {
		return nil
	}
	if size > expected {
		return AbortDataLong
	}
	if size < expected {
		return AbortDataShort
	}
	return nil
}

func (s *SDOServer) send(msg SDOMessage) {
	s.tx = append(s.tx, msg)
}

// commit sends the frames of the last transition and programs the timer
func (s *SDOServer) commit() {
	for _, msg := range s.tx {
		frame := can.NewFrame(s.txId, 0, 8)
		frame.Data = msg.raw
		if err := s.bm.Send(frame); err != nil {
			s.logger.Warn("[TX] failed to send", "raw", msg.raw, "err", err)
		}
	}
	s.tx = s.tx[:0]
	switch {
	case s.state == ServerBlockDownloadSub:
		s.timer.arm(s.blockTimeout)
	case s.state.InTransfer():
		s.timer.arm(s.timeout)
	default:
		s.timer.stop()
	}
	s.applyPending()
}

func (s *SDOServer) reset() {
	s.state = ServerWaiting
	s.object = nil
	s.req.Clear()
	s.toggle = 0
	s.ackSeq = 0
	s.seqSent = 0
	s.rawReceived = 0
	s.blockStart = 0
	s.blockStarted = false
	s.lastSent = false
	s.noData = 0
	s.discarding = false
}

// abort sends an abort frame for the current transfer and goes back to
// waiting for a new request
func (s *SDOServer) abort(err error) {
	code := ToAbort(err)
	s.state = ServerAbortingTransfer
	s.logger.Warn("[TX] server abort",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"code", fmt.Sprintf("x%x", uint32(code)),
		"description", code.Description(),
		"err", err,
	)
	s.send(newAbortMessage(s.index, s.subindex, code))
	s.reset()
}

func (s *SDOServer) onTimeout(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timer.current(generation) || !s.state.InTransfer() {
		return
	}
	// Missing segments of a block download are acknowledged once so that
	// the client resends from there. Without any reply, the next expiry aborts.
	if s.state == ServerBlockDownloadSub && !s.timeoutStrike && (s.ackSeq != 0 || s.discarding) {
		s.timeoutStrike = true
		s.logger.Warn("[TX] block download timeout, acknowledging received segments",
			"index", fmt.Sprintf("x%x", s.index),
			"subindex", fmt.Sprintf("x%x", s.subindex),
			"ackseq", s.ackSeq,
		)
		s.send(newBlockAck(s.ackSeq, s.blockSize))
		s.ackSeq = 0
		s.discarding = true
		s.commit()
		return
	}
	s.abort(AbortTimeout)
	s.commit()
}
