package sdo

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/internal/clock"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/transfer"
)

// Result is the outcome of a client transfer, given to its [Confirm].
// Err is nil on success, an [Abort] otherwise.
type Result struct {
	Index    uint16
	Subindex uint8
	// Uploaded value
	Data []byte
	Err  error
}

// Confirm is called once when a transfer is over, without any client lock
// held : it may start the next transfer.
type Confirm func(result Result)

// Progress of a segmented or block transfer
type Progress struct {
	Index       uint16
	Subindex    uint8
	Transferred uint64
	Size        uint64
	SizeKnown   bool
}

type completion struct {
	confirm Confirm
	result  Result
}

// SDOClient reads and writes the objects of one SDO server.
// Only one transfer can be open at a time.
type SDOClient struct {
	bm           *canopen.BusManager
	logger       *slog.Logger
	mu           sync.Mutex
	timer        *transferTimer
	params       Params
	valid        bool
	rxId         uint32
	txId         uint32
	state        ClientState
	timeout      time.Duration
	blockTimeout time.Duration
	blockMaxSize uint8
	pst          uint8
	crcSupported bool
	blockEnabled bool
	onProgress   func(Progress)
	tx           []SDOMessage

	// Current transfer
	id        uint64
	index     uint16
	subindex  uint8
	req       *transfer.Request
	uploading bool
	toggle    uint8
	expedited bool
	lastSent  bool
	confirm   Confirm

	// Block transfers
	blockSize       uint8
	blockCRCEnabled bool
	ackSeq          uint8
	seqSent         uint8
	blockStart      uint64
	noData          uint8
	lastSegment     [BlockSeqSize]byte
	discarding      bool
	timeoutStrike   bool

	// Notifications delivered after unlocking
	done   *completion
	events []Progress
}

// NewSDOClient creates a client for the server of serverNodeId, on its
// default channel. With serverNodeId 0, the channel stays invalid until
// [SDOClient.SetServer] or [SDOClient.SetParams].
func NewSDOClient(
	bm *canopen.BusManager,
	logger *slog.Logger,
	clk clock.Clock,
	serverNodeId uint8,
) (*SDOClient, error) {
	if bm == nil || serverNodeId > canopen.NodeIdMax {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	c := &SDOClient{
		bm:           bm,
		logger:       logger.With("service", "[CLIENT]"),
		state:        ClientWaiting,
		timeout:      DefaultClientTimeout,
		blockTimeout: DefaultBlockTimeout,
		blockMaxSize: BlockMaxSize,
		pst:          ClientProtocolSwitchThreshold,
		crcSupported: true,
		req:          transfer.New(nil),
	}
	c.timer = newTransferTimer(clk, c.onTimeout)
	params := Params{CobIdClientToServer: CobIdInvalid, CobIdServerToClient: CobIdInvalid}
	if serverNodeId != 0 {
		params = DefaultClientParams(serverNodeId)
	}
	if err := c.applyParams(params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SDOClient) applyParams(params Params) error {
	if c.rxId != 0 {
		c.bm.Unsubscribe(c.rxId, false, c)
	}
	c.params = params
	c.valid = params.Valid()
	c.rxId, c.txId = 0, 0
	if !c.valid {
		return nil
	}
	c.txId = CanId(params.CobIdClientToServer)
	c.rxId = CanId(params.CobIdServerToClient)
	return c.bm.Subscribe(c.rxId, false, c)
}

// SetParams changes the communication parameters of the channel.
// The CAN identifiers may only be changed while the channel is invalid.
func (c *SDOClient) SetParams(params Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InTransfer() {
		return ErrBusy
	}
	if err := c.params.Check(params); err != nil {
		return err
	}
	return c.applyParams(params)
}

// SetServer switches to the default channel of the server of nodeId
func (c *SDOClient) SetServer(nodeId uint8) error {
	if !canopen.IsValidNodeId(nodeId) {
		return ErrInvalidArgs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InTransfer() {
		return ErrBusy
	}
	if c.valid && c.params.NodeId == nodeId {
		return nil
	}
	return c.applyParams(DefaultClientParams(nodeId))
}

func (c *SDOClient) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *SDOClient) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetTimeout sets the time to wait for each server response
func (c *SDOClient) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// SetTimeoutBlockTransfer sets the timeout between two segments of a
// block upload, after which the segments received so far are acknowledged.
func (c *SDOClient) SetTimeoutBlockTransfer(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockTimeout = timeout
}

// SetBlockMaxSize sets the number of segments per block requested for
// block uploads
func (c *SDOClient) SetBlockMaxSize(size uint8) error {
	if size < BlockMinSize || size > BlockMaxSize {
		return ErrInvalidArgs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockMaxSize = size
	return nil
}

// SetProtocolSwitchThreshold sets the size under which a server may answer a
// block upload with a normal upload, 0 disables switching
func (c *SDOClient) SetProtocolSwitchThreshold(pst uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pst = pst
}

// SetCRC enables or disables CRC support for block transfers
func (c *SDOClient) SetCRC(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crcSupported = enabled
}

// SetBlockTransfer makes the blocking helpers use block transfers
func (c *SDOClient) SetBlockTransfer(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockEnabled = enabled
}

// SetProgress registers a function called as segmented and block
// transfers progress, nil disables it
func (c *SDOClient) SetProgress(progress func(Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = progress
}

// SetStorage replaces the storage of uploaded values, e.g. with a
// [transfer.Fixed] buffer. Larger uploads abort with [AbortOutOfMem].
func (c *SDOClient) SetStorage(storage transfer.Storage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InTransfer() {
		return ErrBusy
	}
	c.req = transfer.New(storage)
	return nil
}

// Stop aborts any transfer and refuses new ones until [SDOClient.Start]
func (c *SDOClient) Stop() {
	c.mu.Lock()
	defer c.unlock()
	if c.state.InTransfer() {
		c.abort(AbortDataDeviceState)
	}
	c.state = ClientStopped
	c.commit()
}

func (c *SDOClient) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientStopped {
		c.state = ClientWaiting
	}
}

// Close stops the client and releases its identifier
func (c *SDOClient) Close() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rxId != 0 {
		c.bm.Unsubscribe(c.rxId, false, c)
		c.rxId = 0
	}
	c.valid = false
}

// Download writes data to (index, subindex) with an expedited or a
// segmented transfer, confirm is called when the transfer is over.
func (c *SDOClient) Download(index uint16, subindex uint8, data []byte, confirm Confirm) error {
	_, err := c.download(index, subindex, data, false, confirm)
	return err
}

// DownloadBlock writes data to (index, subindex) with a block transfer
func (c *SDOClient) DownloadBlock(index uint16, subindex uint8, data []byte, confirm Confirm) error {
	_, err := c.download(index, subindex, data, true, confirm)
	return err
}

// Upload reads (index, subindex) with an expedited or a segmented transfer
func (c *SDOClient) Upload(index uint16, subindex uint8, confirm Confirm) error {
	_, err := c.upload(index, subindex, false, confirm)
	return err
}

// UploadBlock reads (index, subindex) with a block transfer. Small
// values may be sent by the server with a normal upload instead.
func (c *SDOClient) UploadBlock(index uint16, subindex uint8, confirm Confirm) error {
	_, err := c.upload(index, subindex, true, confirm)
	return err
}

// Abort aborts the open transfer, if any, with code
func (c *SDOClient) Abort(code Abort) {
	c.mu.Lock()
	defer c.unlock()
	if !c.state.InTransfer() {
		return
	}
	c.abort(code)
	c.commit()
}

func (c *SDOClient) abortTransfer(id uint64, code Abort) {
	c.mu.Lock()
	defer c.unlock()
	if !c.state.InTransfer() || c.id != id {
		return
	}
	c.abort(code)
	c.commit()
}

func (c *SDOClient) begin(index uint16, subindex uint8, confirm Confirm) (uint64, error) {
	switch {
	case c.state == ClientStopped:
		return 0, ErrStopped
	case !c.valid:
		return 0, ErrNotValid
	case c.state != ClientWaiting:
		return 0, ErrBusy
	}
	c.id++
	c.index = index
	c.subindex = subindex
	c.confirm = confirm
	c.toggle = 0
	c.expedited = false
	c.lastSent = false
	c.ackSeq = 0
	c.seqSent = 0
	c.blockStart = 0
	c.noData = 0
	c.discarding = false
	c.timeoutStrike = false
	return c.id, nil
}

func (c *SDOClient) download(index uint16, subindex uint8, data []byte, block bool, confirm Confirm) (uint64, error) {
	if uint64(len(data)) > MaxTransferSize {
		return 0, ErrDataSize
	}
	c.mu.Lock()
	defer c.unlock()
	id, err := c.begin(index, subindex, confirm)
	if err != nil {
		return 0, err
	}
	c.uploading = false
	c.req.BeginSend(data)
	if block {
		c.state = c.txDownloadBlockInitiate()
	} else {
		c.state = c.txDownloadInitiate()
	}
	c.commit()
	return id, nil
}

func (c *SDOClient) upload(index uint16, subindex uint8, block bool, confirm Confirm) (uint64, error) {
	c.mu.Lock()
	defer c.unlock()
	id, err := c.begin(index, subindex, confirm)
	if err != nil {
		return 0, err
	}
	c.uploading = true
	c.req.BeginReceive(0, false)
	if block {
		c.state = c.txUploadBlockInitiate()
	} else {
		c.state = c.txUploadInitiate()
	}
	c.commit()
	return id, nil
}

// Handle [SDOClient] related RX CAN frames
func (c *SDOClient) Handle(frame can.Frame) {
	c.mu.Lock()
	defer c.unlock()
	if !c.state.InTransfer() {
		return
	}
	if frame.DLC != 8 {
		c.logger.Warn("[RX] unexpected frame length", "dlc", frame.DLC)
		c.abort(AbortCmd)
		c.commit()
		return
	}
	c.timeoutStrike = false
	rx := SDOMessage{raw: frame.Data}
	if rx.IsAbort() {
		code := rx.GetAbortCode()
		c.logger.Info("[RX] server abort",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"code", fmt.Sprintf("x%x", uint32(code)),
			"description", code.Description(),
		)
		c.finish(code)
		c.commit()
		return
	}
	next, err := c.transition(rx)
	if err != nil {
		c.abort(err)
	} else {
		c.state = next
	}
	c.commit()
}

func (c *SDOClient) transition(rx SDOMessage) (ClientState, error) {
	switch c.state {
	case ClientDownloadInitiate:
		return c.rxDownloadInitiate(rx)
	case ClientDownloadSegment:
		return c.rxDownloadSegment(rx)
	case ClientUploadInitiate:
		return c.rxUploadInitiate(rx)
	case ClientUploadSegment:
		return c.rxUploadSegment(rx)
	case ClientBlockDownloadInitiate:
		return c.rxDownloadBlockInitiate(rx)
	case ClientBlockDownloadSub:
		return c.rxDownloadBlockAck(rx)
	case ClientBlockDownloadEnd:
		return c.rxDownloadBlockEnd(rx)
	case ClientBlockUploadInitiate:
		return c.rxUploadBlockInitiate(rx)
	case ClientBlockUploadSub:
		return c.rxUploadBlockSubBlock(rx)
	case ClientBlockUploadEnd:
		return c.rxUploadBlockEnd(rx)
	}
	return c.state, AbortCmd
}

// checkAddress verifies that an initiate response is for the current object
func (c *SDOClient) checkAddress(rx SDOMessage) error {
	if rx.GetIndex() != c.index || rx.GetSubindex() != c.subindex {
		c.logger.Warn("[RX] response for another object",
			"index", fmt.Sprintf("x%x", rx.GetIndex()),
			"subindex", fmt.Sprintf("x%x", rx.GetSubindex()),
		)
		return AbortParamIncompat
	}
	return nil
}

func (c *SDOClient) send(msg SDOMessage) {
	c.tx = append(c.tx, msg)
}

// commit sends the frames of the last transition and programs the timer
func (c *SDOClient) commit() {
	for _, msg := range c.tx {
		frame := can.NewFrame(c.txId, 0, 8)
		frame.Data = msg.raw
		if err := c.bm.Send(frame); err != nil {
			c.logger.Warn("[TX] failed to send", "raw", msg.raw, "err", err)
		}
	}
	c.tx = c.tx[:0]
	switch {
	case c.state == ClientBlockUploadSub:
		c.timer.arm(c.blockTimeout)
	case c.state.InTransfer():
		c.timer.arm(c.timeout)
	default:
		c.timer.stop()
	}
}

// unlock releases the client lock, then delivers progress and confirmation
func (c *SDOClient) unlock() {
	done := c.done
	events := c.events
	progress := c.onProgress
	c.done = nil
	c.events = nil
	c.mu.Unlock()
	if progress != nil {
		for _, event := range events {
			progress(event)
		}
	}
	if done != nil && done.confirm != nil {
		done.confirm(done.result)
	}
}

func (c *SDOClient) notifyProgress() {
	if c.onProgress == nil {
		return
	}
	size, known := c.req.Size()
	c.events = append(c.events, Progress{
		Index:       c.index,
		Subindex:    c.subindex,
		Transferred: c.req.Position(),
		Size:        size,
		SizeKnown:   known,
	})
}

// complete ends the transfer successfully
func (c *SDOClient) complete() ClientState {
	c.finish(nil)
	return ClientWaiting
}

func (c *SDOClient) finish(err error) {
	result := Result{Index: c.index, Subindex: c.subindex, Err: err}
	if err == nil && c.uploading {
		result.Data = append([]byte{}, c.req.Bytes()...)
	}
	c.done = &completion{confirm: c.confirm, result: result}
	c.confirm = nil
	c.state = ClientWaiting
	c.req.Clear()
}

func (c *SDOClient) abort(err error) {
	code := ToAbort(err)
	c.state = ClientAbortingTransfer
	c.logger.Warn("[TX] client abort",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"code", fmt.Sprintf("x%x", uint32(code)),
		"description", code.Description(),
		"err", err,
	)
	c.send(newAbortMessage(c.index, c.subindex, code))
	c.finish(code)
}

func (c *SDOClient) onTimeout(generation uint64) {
	c.mu.Lock()
	defer c.unlock()
	if !c.timer.current(generation) || !c.state.InTransfer() {
		return
	}
	if c.state == ClientBlockUploadSub && !c.timeoutStrike && (c.ackSeq != 0 || c.discarding) {
		c.timeoutStrike = true
		c.logger.Warn("[TX] block upload timeout, acknowledging received segments",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"ackseq", c.ackSeq,
		)
		c.send(newBlockAck(c.ackSeq, c.blockSize))
		c.ackSeq = 0
		c.discarding = true
		c.commit()
		return
	}
	c.abort(AbortTimeout)
	c.commit()
}
