package transfer

// Storage is the staging area of a [Request] receiving a value.
type Storage interface {
	// Append adds p at the end, or returns ErrNoMem without modifying
	// the storage if p does not fit.
	Append(p []byte) error
	Truncate(n int)
	Len() int
	Bytes() []byte
	Reset()
}

type fixedStorage struct {
	buf []byte
}

// Fixed returns a storage of exactly capacity bytes allocated once.
func Fixed(capacity int) Storage {
	return &fixedStorage{buf: make([]byte, 0, capacity)}
}

func (s *fixedStorage) Append(p []byte) error {
	if len(s.buf)+len(p) > cap(s.buf) {
		return ErrNoMem
	}
	s.buf = append(s.buf, p...)
	return nil
}

func (s *fixedStorage) Truncate(n int) {
	if n < len(s.buf) {
		s.buf = s.buf[:n]
	}
}

func (s *fixedStorage) Len() int      { return len(s.buf) }
func (s *fixedStorage) Bytes() []byte { return s.buf }
func (s *fixedStorage) Reset()        { s.buf = s.buf[:0] }

type growableStorage struct {
	buf   []byte
	limit int
}

// Growable returns a heap storage growing up to limit bytes,
// limit <= 0 means no limit.
func Growable(limit int) Storage {
	return &growableStorage{limit: limit}
}

func (s *growableStorage) Append(p []byte) error {
	if s.limit > 0 && len(s.buf)+len(p) > s.limit {
		return ErrNoMem
	}
	s.buf = append(s.buf, p...)
	return nil
}

func (s *growableStorage) Truncate(n int) {
	if n < len(s.buf) {
		s.buf = s.buf[:n]
	}
}

func (s *growableStorage) Len() int      { return len(s.buf) }
func (s *growableStorage) Bytes() []byte { return s.buf }
func (s *growableStorage) Reset()        { s.buf = s.buf[:0] }
