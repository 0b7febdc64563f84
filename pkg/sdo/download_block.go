package sdo

import (
	"fmt"

	"github.com/samsamfire/gosdo/internal/crc"
)

func (s *SDOServer) rxDownloadBlockInitiate(rx SDOMessage) (ServerState, error) {
	s.blockCRCEnabled = rx.IsCRCEnabled()
	var size uint64
	known := rx.IsSizeIndicatedBlock()
	if known {
		size = uint64(rx.GetSize())
		if err := s.checkObjectSize(size); err != nil {
			return ServerWaiting, err
		}
	}
	s.logger.Debug("[RX] block download init",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"crc", s.blockCRCEnabled,
		"size", size,
		"raw", rx.raw,
	)
	s.req.BeginReceive(size, known)
	s.blockSize = s.blockMaxSize
	s.ackSeq = 0
	s.rawReceived = 0
	s.discarding = false

	msg := newInitiate(csBlockUpload|blockCRC, s.index, s.subindex)
	msg.raw[4] = s.blockSize
	s.send(msg)
	return ServerBlockDownloadSub, nil
}

// Segments are only accepted in sequence. On a gap, the segments received
// so far are acknowledged and the rest of the block is discarded until the
// client starts the next block from the first missing segment.
func (s *SDOServer) rxDownloadBlockSubBlock(rx SDOMessage) (ServerState, error) {
	seqno := rx.GetSeqNo()
	last := rx.IsLastBlockSegment()

	if seqno == s.ackSeq+1 && seqno <= s.blockSize {
		count := BlockSeqSize
		if size, known := s.req.Size(); known {
			remaining := size - min(size, s.req.Position())
			count = int(min(remaining, BlockSeqSize))
			if count == 0 && !last {
				return s.state, AbortDataLong
			}
		}
		if _, err := s.req.Accept(rx.raw[1 : 1+count]); err != nil {
			return s.state, err
		}
		s.rawReceived += BlockSeqSize
		s.ackSeq = seqno
		s.discarding = false
		if last {
			s.logger.Debug("[RX] block download last segment",
				"index", fmt.Sprintf("x%x", s.index),
				"subindex", fmt.Sprintf("x%x", s.subindex),
				"seqno", seqno,
			)
			s.send(newBlockAck(s.ackSeq, s.blockSize))
			return ServerBlockDownloadEnd, nil
		}
		if seqno == s.blockSize {
			s.logger.Debug("[RX] block download sub-block end",
				"index", fmt.Sprintf("x%x", s.index),
				"subindex", fmt.Sprintf("x%x", s.subindex),
				"blksize", s.blockSize,
			)
			s.send(newBlockAck(s.ackSeq, s.blockSize))
			s.ackSeq = 0
		}
		return ServerBlockDownloadSub, nil
	}

	if seqno > s.ackSeq+1 && !s.discarding {
		s.logger.Warn("[RX] block download segment lost",
			"index", fmt.Sprintf("x%x", s.index),
			"subindex", fmt.Sprintf("x%x", s.subindex),
			"seqno", seqno,
			"ackseq", s.ackSeq,
			"blksize", s.blockSize,
		)
		s.send(newBlockAck(s.ackSeq, s.blockSize))
		s.ackSeq = 0
		s.discarding = true
		return ServerBlockDownloadSub, nil
	}

	// Duplicates and the rest of a block after a gap
	s.logger.Debug("[RX] block download segment ignored",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"seqno", seqno,
		"ackseq", s.ackSeq,
	)
	return ServerBlockDownloadSub, nil
}

func (s *SDOServer) rxDownloadBlockEnd(rx SDOMessage) (ServerState, error) {
	if rx.raw[0]&0xE3 != blockEnd {
		return s.state, AbortCmd
	}
	noData := uint64(rx.GetNoData())
	s.logger.Debug("[RX] block download end",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"nodata", noData,
		"raw", rx.raw,
	)
	if size, known := s.req.Size(); known {
		switch total := s.rawReceived - min(noData, s.rawReceived); {
		case total < size:
			return s.state, AbortDataShort
		case total > size:
			return s.state, AbortDataLong
		}
	} else if err := s.req.Trim(noData); err != nil {
		return s.state, AbortCmd
	}
	if err := s.req.Finish(); err != nil {
		return s.state, err
	}
	if s.blockCRCEnabled {
		computed := crc.Compute(s.req.Bytes())
		if computed != rx.GetCRC() {
			s.logger.Warn("[RX] block download crc mismatch",
				"expected", fmt.Sprintf("x%x", uint16(computed)),
				"received", fmt.Sprintf("x%x", uint16(rx.GetCRC())),
			)
			return s.state, AbortCRC
		}
	}
	if err := s.object.Download(s.req); err != nil {
		return s.state, err
	}
	s.send(newCommand(blockEndResponse))
	return ServerWaiting, nil
}

func (c *SDOClient) txDownloadBlockInitiate() ClientState {
	size, _ := c.req.Size()
	command := uint8(csBlockDownload)
	if c.crcSupported {
		command |= blockCRC
	}
	msg := newInitiate(command, c.index, c.subindex)
	msg.setBlockSize(uint32(size))
	c.send(msg)
	c.logger.Debug("[TX] block download init",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"size", size,
		"crc", c.crcSupported,
	)
	return ClientBlockDownloadInitiate
}

func (c *SDOClient) rxDownloadBlockInitiate(rx SDOMessage) (ClientState, error) {
	if rx.raw[0]&^blockCRC != csBlockUpload {
		return c.state, AbortCmd
	}
	if err := c.checkAddress(rx); err != nil {
		return c.state, err
	}
	blksize := rx.GetBlockSize()
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return c.state, AbortBlockSize
	}
	c.blockSize = blksize
	c.blockCRCEnabled = c.crcSupported && rx.IsCRCEnabled()
	c.logger.Debug("[RX] block download init",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"blksize", blksize,
		"crc", c.blockCRCEnabled,
	)
	c.txDownloadBlockSubBlock()
	return ClientBlockDownloadSub, nil
}

// txDownloadBlockSubBlock sends up to blksize segments, the last segment
// of the value is padded with zeroes.
func (c *SDOClient) txDownloadBlockSubBlock() {
	c.blockStart = c.req.Position()
	c.lastSent = false
	c.seqSent = 0
	for seqno := uint8(1); seqno <= c.blockSize; seqno++ {
		data := c.req.Next(BlockSeqSize)
		last := c.req.IsLast()
		c.send(newBlockSegment(seqno, data, last))
		c.seqSent = seqno
		if last {
			c.lastSent = true
			c.noData = uint8(BlockSeqSize - len(data))
			break
		}
	}
	c.logger.Debug("[TX] block download sub-block",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"segments", c.seqSent,
		"last", c.lastSent,
	)
}

func (c *SDOClient) rxDownloadBlockAck(rx SDOMessage) (ClientState, error) {
	if rx.raw[0] != blockAck {
		return c.state, AbortCmd
	}
	ackseq := rx.GetAckSeq()
	blksize := rx.GetAckBlockSize()
	if ackseq > c.seqSent {
		return c.state, AbortSeqNum
	}
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return c.state, AbortBlockSize
	}
	c.logger.Debug("[RX] block download ack",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"ackseq", ackseq,
		"blksize", blksize,
	)
	if ackseq == c.seqSent && c.lastSent {
		var checksum crc.CRC16
		if c.blockCRCEnabled {
			checksum = crc.Compute(c.req.Source())
		}
		c.send(newBlockEnd(c.noData, checksum))
		c.notifyProgress()
		return ClientBlockDownloadEnd, nil
	}
	if ackseq < c.seqSent {
		acked := c.blockStart + uint64(ackseq)*BlockSeqSize
		if err := c.req.SeekBack(c.req.Position() - acked); err != nil {
			return c.state, err
		}
		c.logger.Warn("[RX] block download segments lost, resending",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"ackseq", ackseq,
			"sent", c.seqSent,
		)
	}
	c.blockSize = blksize
	c.notifyProgress()
	c.txDownloadBlockSubBlock()
	return ClientBlockDownloadSub, nil
}

func (c *SDOClient) rxDownloadBlockEnd(rx SDOMessage) (ClientState, error) {
	if rx.raw[0] != blockEndResponse {
		return c.state, AbortCmd
	}
	c.logger.Debug("[RX] block download end",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
	)
	return c.complete(), nil
}
