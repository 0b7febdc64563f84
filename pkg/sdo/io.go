package sdo

import (
	"context"
	"io"

	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/transfer"
)

// useServer switches to the default channel of nodeId, 0 keeps the
// current channel
func (c *SDOClient) useServer(nodeId uint8) error {
	if nodeId == 0 {
		return nil
	}
	return c.SetServer(nodeId)
}

// wait runs one transfer to completion. If ctx is done first, the
// transfer is aborted with [AbortDataLocalControl].
func (c *SDOClient) wait(ctx context.Context, start func(confirm Confirm) (uint64, error)) (Result, error) {
	results := make(chan Result, 1)
	id, err := start(func(result Result) { results <- result })
	if err != nil {
		return Result{}, err
	}
	select {
	case result := <-results:
		return result, result.Err
	case <-ctx.Done():
		c.abortTransfer(id, AbortDataLocalControl)
		result := <-results
		if result.Err == nil {
			return result, nil
		}
		return result, ctx.Err()
	}
}

// ReadAll reads everything from a given index/subindex of nodeId.
// This is blocking.
func (c *SDOClient) ReadAll(ctx context.Context, nodeId uint8, index uint16, subindex uint8) ([]byte, error) {
	c.mu.Lock()
	block := c.blockEnabled
	c.mu.Unlock()
	return c.readAll(ctx, nodeId, index, subindex, block)
}

func (c *SDOClient) readAll(ctx context.Context, nodeId uint8, index uint16, subindex uint8, block bool) ([]byte, error) {
	if err := c.useServer(nodeId); err != nil {
		return nil, err
	}
	result, err := c.wait(ctx, func(confirm Confirm) (uint64, error) {
		return c.upload(index, subindex, block, confirm)
	})
	return result.Data, err
}

// Read a given index/subindex from node into data.
// It fails with [io.ErrShortBuffer] if data is too small.
func (c *SDOClient) ReadRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data []byte) (int, error) {
	value, err := c.ReadAll(ctx, nodeId, index, subindex)
	if err != nil {
		return 0, err
	}
	n := copy(data, value)
	if n < len(value) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// Write a given index/subindex to node. data is encoded with
// [od.EncodeFromGeneric]. Block transfers are used when enabled and the
// value is larger than the protocol switch threshold, unless forceSegmented.
func (c *SDOClient) WriteRaw(ctx context.Context, nodeId uint8, index uint16, subindex uint8, data any, forceSegmented bool) error {
	encoded, err := od.EncodeFromGeneric(data)
	if err != nil {
		return err
	}
	return c.write(ctx, nodeId, index, subindex, encoded, forceSegmented)
}

func (c *SDOClient) write(ctx context.Context, nodeId uint8, index uint16, subindex uint8, encoded []byte, forceSegmented bool) error {
	c.mu.Lock()
	block := !forceSegmented && c.blockEnabled
	c.mu.Unlock()
	return c.writeAll(ctx, nodeId, index, subindex, encoded, block)
}

// writeAll downloads encoded, with a block transfer if block is set and
// the value is larger than the protocol switch threshold
func (c *SDOClient) writeAll(ctx context.Context, nodeId uint8, index uint16, subindex uint8, encoded []byte, block bool) error {
	if err := c.useServer(nodeId); err != nil {
		return err
	}
	c.mu.Lock()
	block = block && len(encoded) > int(c.pst)
	c.mu.Unlock()
	_, err := c.wait(ctx, func(confirm Confirm) (uint64, error) {
		return c.download(index, subindex, encoded, block, confirm)
	})
	return err
}

// Write encodes value as dataType, the go type of value must match it
func (c *SDOClient) Write(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8, value any) error {
	req := transfer.New(nil)
	if err := req.BeginSendValue(dataType, value); err != nil {
		return err
	}
	return c.write(ctx, nodeId, index, subindex, req.Source(), false)
}

// Read decodes the value at index/subindex as dataType, see [od.DecodeToTypeExact].
// A value of the wrong length fails with [transfer.ErrLengthHigh] or
// [transfer.ErrLengthLow], see [ToAbort].
func (c *SDOClient) Read(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8) (any, error) {
	data, err := c.ReadAll(ctx, nodeId, index, subindex)
	if err != nil {
		return nil, err
	}
	req := transfer.New(nil)
	req.BeginReceiveValue(dataType)
	if err := req.AcceptValue(data); err != nil {
		return nil, err
	}
	return req.Value(dataType)
}

// Helper function for reading directly a uint8
func (c *SDOClient) ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	value, err := c.Read(ctx, nodeId, index, subindex, od.UNSIGNED8)
	if err != nil {
		return 0, err
	}
	return value.(uint8), nil
}

// Helper function for reading directly a uint16
func (c *SDOClient) ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	value, err := c.Read(ctx, nodeId, index, subindex, od.UNSIGNED16)
	if err != nil {
		return 0, err
	}
	return value.(uint16), nil
}

// Helper function for reading directly a uint32
func (c *SDOClient) ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	value, err := c.Read(ctx, nodeId, index, subindex, od.UNSIGNED32)
	if err != nil {
		return 0, err
	}
	return value.(uint32), nil
}

// Helper function for reading directly a uint64
func (c *SDOClient) ReadUint64(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint64, error) {
	value, err := c.Read(ctx, nodeId, index, subindex, od.UNSIGNED64)
	if err != nil {
		return 0, err
	}
	return value.(uint64), nil
}

// Helper function for reading a visible string
func (c *SDOClient) ReadString(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (string, error) {
	data, err := c.ReadAll(ctx, nodeId, index, subindex)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type sdoRawReadWriter struct {
	client       *SDOClient
	ctx          context.Context
	index        uint16
	subindex     uint8
	blockEnabled bool
	size         uint32
	buf          []byte
	done         bool
}

// NewRawReader returns a reader of the value at index/subindex of nodeId.
// The value is uploaded on the first Read, with a block transfer if
// blockEnabled, the server may fall back to a normal upload for small values.
func (c *SDOClient) NewRawReader(ctx context.Context, nodeId uint8, index uint16, subindex uint8, blockEnabled bool) (io.Reader, error) {
	if err := c.useServer(nodeId); err != nil {
		return nil, err
	}
	return &sdoRawReadWriter{client: c, ctx: ctx, index: index, subindex: subindex, blockEnabled: blockEnabled}, nil
}

// NewRawWriter returns a writer of size bytes to index/subindex of nodeId.
// The value is downloaded once size bytes have been written.
func (c *SDOClient) NewRawWriter(ctx context.Context, nodeId uint8, index uint16, subindex uint8, blockEnabled bool, size uint32) (io.Writer, error) {
	if size == 0 {
		return nil, ErrInvalidArgs
	}
	if err := c.useServer(nodeId); err != nil {
		return nil, err
	}
	return &sdoRawReadWriter{
		client:       c,
		ctx:          ctx,
		index:        index,
		subindex:     subindex,
		blockEnabled: blockEnabled,
		size:         size,
		buf:          make([]byte, 0, size),
	}, nil
}

// Implements io.Reader interface
func (rw *sdoRawReadWriter) Read(b []byte) (int, error) {
	if !rw.done {
		data, err := rw.client.readAll(rw.ctx, 0, rw.index, rw.subindex, rw.blockEnabled)
		if err != nil {
			return 0, err
		}
		rw.buf = data
		rw.done = true
	}
	if len(rw.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, rw.buf)
	rw.buf = rw.buf[n:]
	return n, nil
}

// Implements io.Writer interface
func (rw *sdoRawReadWriter) Write(b []byte) (int, error) {
	if rw.done || len(rw.buf)+len(b) > int(rw.size) {
		return 0, transfer.ErrSizeExceeded
	}
	rw.buf = append(rw.buf, b...)
	if len(rw.buf) < int(rw.size) {
		return len(b), nil
	}
	rw.done = true
	if err := rw.client.writeAll(rw.ctx, 0, rw.index, rw.subindex, rw.buf, rw.blockEnabled); err != nil {
		return 0, err
	}
	return len(b), nil
}
