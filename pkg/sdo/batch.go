package sdo

import (
	"encoding/binary"
	"fmt"
)

// ConciseEntry is one value of a concise DCF : a list of values written
// in order, as stored in object 0x1F22.
//
// The encoding is a little endian uint32 entry count, followed for each
// entry by the index (uint16), the sub-index (uint8), the size (uint32)
// and the data.
type ConciseEntry struct {
	Index    uint16
	Subindex uint8
	Data     []byte
}

// BatchResult is given once a batch is over. Results holds one result per
// attempted entry, Err is the error of the failed entry if any.
type BatchResult struct {
	Results []Result
	Err     error
}

func ParseConcise(raw []byte) ([]ConciseEntry, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w : concise dcf too short (%d)", ErrInvalidArgs, len(raw))
	}
	count := binary.LittleEndian.Uint32(raw)
	raw = raw[4:]
	entries := make([]ConciseEntry, 0, min(count, uint32(len(raw)/7)))
	for i := uint32(0); i < count; i++ {
		if len(raw) < 7 {
			return nil, fmt.Errorf("%w : entry %d header truncated", ErrInvalidArgs, i)
		}
		entry := ConciseEntry{
			Index:    binary.LittleEndian.Uint16(raw),
			Subindex: raw[2],
		}
		size := binary.LittleEndian.Uint32(raw[3:])
		raw = raw[7:]
		if uint64(len(raw)) < uint64(size) {
			return nil, fmt.Errorf("%w : entry %d x%x:x%x data truncated", ErrInvalidArgs, i, entry.Index, entry.Subindex)
		}
		entry.Data = raw[:size]
		raw = raw[size:]
		entries = append(entries, entry)
	}
	if len(raw) != 0 {
		return nil, fmt.Errorf("%w : %d trailing bytes after %d entries", ErrInvalidArgs, len(raw), count)
	}
	return entries, nil
}

func EncodeConcise(entries []ConciseEntry) []byte {
	raw := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, entry := range entries {
		raw = binary.LittleEndian.AppendUint16(raw, entry.Index)
		raw = append(raw, entry.Subindex)
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(entry.Data)))
		raw = append(raw, entry.Data...)
	}
	return raw
}

// DownloadConcise writes every entry of a concise DCF in order, each
// download being started by the confirmation of the previous one. The
// batch stops at the first failure. confirm is called once at the end.
// Nothing is sent if raw cannot be parsed.
func (c *SDOClient) DownloadConcise(raw []byte, confirm func(BatchResult)) error {
	entries, err := ParseConcise(raw)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		confirm(BatchResult{})
		return nil
	}
	b := &batch{client: c, entries: entries, confirm: confirm}
	return b.client.Download(entries[0].Index, entries[0].Subindex, entries[0].Data, b.next)
}

type batch struct {
	client  *SDOClient
	entries []ConciseEntry
	results []Result
	confirm func(BatchResult)
}

func (b *batch) next(result Result) {
	b.results = append(b.results, result)
	if result.Err != nil {
		b.client.logger.Warn("concise dcf entry failed",
			"entry", len(b.results)-1,
			"index", fmt.Sprintf("x%x", result.Index),
			"subindex", fmt.Sprintf("x%x", result.Subindex),
			"err", result.Err,
		)
		b.confirm(BatchResult{Results: b.results, Err: result.Err})
		return
	}
	if len(b.results) == len(b.entries) {
		b.confirm(BatchResult{Results: b.results})
		return
	}
	entry := b.entries[len(b.results)]
	if err := b.client.Download(entry.Index, entry.Subindex, entry.Data, b.next); err != nil {
		b.confirm(BatchResult{Results: b.results, Err: err})
	}
}
