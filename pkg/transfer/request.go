// Package transfer implements the cursor shared by SDO clients, SDO
// servers and object store callbacks to move one value in pieces.
//
// A [Request] either receives a value (BeginReceive, then Accept for every
// piece) into its [Storage], or sends a value the caller already holds
// (BeginSend, then Next for every piece) without copying it.
package transfer

import "errors"

var (
	ErrSizeExceeded = errors.New("transfer exceeds established size")
	ErrNoMem        = errors.New("transfer storage exhausted")
	ErrSeek         = errors.New("seek before start of transfer")
	ErrOffset       = errors.New("window does not start at current offset")
	ErrSizeFixed    = errors.New("transfer size already established")
	ErrDirection    = errors.New("operation not valid for transfer direction")
	ErrLengthHigh   = errors.New("value longer than its data type")
	ErrLengthLow    = errors.New("value shorter than its data type")
)

type direction uint8

const (
	idle direction = iota
	receiving
	sending
)

type Request struct {
	storage   Storage
	src       []byte
	dir       direction
	size      uint64
	sizeKnown bool
	offset    uint64
	window    uint64
	finished  bool
}

// New creates a request staging received values in storage. A nil
// storage defaults to an unbounded [Growable].
func New(storage Storage) *Request {
	if storage == nil {
		storage = Growable(0)
	}
	return &Request{storage: storage}
}

func (r *Request) reset() {
	r.storage.Reset()
	r.src = nil
	r.dir = idle
	r.size = 0
	r.sizeKnown = false
	r.offset = 0
	r.window = 0
	r.finished = false
}

// BeginReceive starts receiving a value, size is only meaningful when known.
func (r *Request) BeginReceive(size uint64, known bool) {
	r.reset()
	r.dir = receiving
	r.size = size
	r.sizeKnown = known
}

// BeginSend starts sending data, which is not copied and must not be
// modified until the transfer is over.
func (r *Request) BeginSend(data []byte) {
	r.reset()
	r.dir = sending
	r.src = data
	r.size = uint64(len(data))
	r.sizeKnown = true
}

// Clear drops the current value
func (r *Request) Clear() {
	r.reset()
}

// SetSize establishes the size of a value being received. It can only
// be done once.
func (r *Request) SetSize(size uint64) error {
	if r.sizeKnown {
		return ErrSizeFixed
	}
	if r.Position() > size {
		return ErrSizeExceeded
	}
	r.size = size
	r.sizeKnown = true
	return nil
}

// Size returns the total size, and whether it is known yet
func (r *Request) Size() (uint64, bool) {
	return r.size, r.sizeKnown
}

// Position is the number of bytes transferred so far, i.e. the end of
// the current window
func (r *Request) Position() uint64 {
	return r.offset + r.window
}

// Offset is the start of the current window
func (r *Request) Offset() uint64 {
	return r.offset
}

// Remaining returns the number of bytes left, 0 if the size is unknown
func (r *Request) Remaining() uint64 {
	if !r.sizeKnown || r.Position() >= r.size {
		return 0
	}
	return r.size - r.Position()
}

// Accept appends window at the current position. ready reports whether
// the value is now complete.
func (r *Request) Accept(window []byte) (ready bool, err error) {
	return r.AcceptAt(r.Position(), window)
}

// AcceptAt is [Request.Accept] with an explicit offset, which must be the
// current position. Going back is only possible with [Request.SeekBack].
func (r *Request) AcceptAt(offset uint64, window []byte) (ready bool, err error) {
	if r.dir != receiving {
		return false, ErrDirection
	}
	position := r.Position()
	if offset < position {
		return false, ErrSeek
	}
	if offset > position {
		return false, ErrOffset
	}
	length := uint64(len(window))
	if r.sizeKnown && position+length > r.size {
		return false, ErrSizeExceeded
	}
	if err := r.storage.Append(window); err != nil {
		return false, err
	}
	r.offset = position
	r.window = length
	return r.IsLast(), nil
}

// Next moves the window over the following max bytes (or less at the
// end of the value) and returns them.
func (r *Request) Next(max int) []byte {
	if r.dir != sending {
		return nil
	}
	r.offset = r.Position()
	r.window = min(uint64(max), r.size-r.offset)
	return r.src[r.offset : r.offset+r.window]
}

// SeekBack moves the position n bytes back, dropping received bytes.
// It fails rather than moving before the start of the value.
func (r *Request) SeekBack(n uint64) error {
	position := r.Position()
	if n > position {
		return ErrSeek
	}
	position -= n
	r.offset = position
	r.window = 0
	r.finished = false
	if r.dir == receiving {
		r.storage.Truncate(int(position))
	}
	return nil
}

// Trim drops the last n received bytes of the current window, e.g. the
// padding of a final block segment.
func (r *Request) Trim(n uint64) error {
	if r.dir != receiving {
		return ErrDirection
	}
	if n > r.window {
		return ErrSeek
	}
	r.window -= n
	r.storage.Truncate(int(r.Position()))
	return nil
}

// Finish marks the value complete, establishing the size from the
// received bytes if it was not known.
func (r *Request) Finish() error {
	if !r.sizeKnown {
		r.size = r.Position()
		r.sizeKnown = true
	}
	if r.Position() != r.size {
		if r.Position() < r.size {
			return ErrLengthLow
		}
		return ErrLengthHigh
	}
	r.finished = true
	return nil
}

func (r *Request) IsFirst() bool {
	return r.offset == 0
}

func (r *Request) IsLast() bool {
	return r.finished || (r.sizeKnown && r.offset+r.window >= r.size)
}

// Window returns the bytes of the current window
func (r *Request) Window() []byte {
	return r.Bytes()[r.offset : r.offset+r.window]
}

// Bytes returns the whole value transferred so far
func (r *Request) Bytes() []byte {
	if r.dir == sending {
		return r.src[:r.Position()]
	}
	return r.storage.Bytes()
}

// Source returns the full value of a request being sent
func (r *Request) Source() []byte {
	return r.src
}

func (r *Request) IsSending() bool {
	return r.dir == sending
}
