package sdo

import (
	"fmt"

	"github.com/samsamfire/gosdo/internal/crc"
)

func (s *SDOServer) rxUploadBlockInitiate(rx SDOMessage) (ServerState, error) {
	blksize := rx.GetBlockSize()
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return ServerWaiting, AbortBlockSize
	}
	pst := rx.GetProtocolSwitchThreshold()
	if err := s.object.Upload(s.req); err != nil {
		return ServerWaiting, err
	}
	size, _ := s.req.Size()
	s.logger.Debug("[RX] block upload init",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"blksize", blksize,
		"pst", pst,
		"size", size,
		"raw", rx.raw,
	)
	if pst > 0 && size <= uint64(pst) {
		// Small value, switch to a normal upload
		return s.txUploadInitiate()
	}
	if size > MaxTransferSize {
		return ServerWaiting, AbortDataLong
	}
	s.blockCRCEnabled = rx.IsCRCEnabled()
	s.blockSize = blksize
	s.blockStarted = false

	msg := newInitiate(csBlockDownload|blockCRC, s.index, s.subindex)
	msg.setBlockSize(uint32(size))
	s.send(msg)
	return ServerBlockUploadSub, nil
}

// txUploadBlockSubBlock sends up to blksize segments from the current
// position
func (s *SDOServer) txUploadBlockSubBlock() {
	s.blockStart = s.req.Position()
	s.lastSent = false
	s.seqSent = 0
	for seqno := uint8(1); seqno <= s.blockSize; seqno++ {
		data := s.req.Next(BlockSeqSize)
		last := s.req.IsLast()
		s.send(newBlockSegment(seqno, data, last))
		s.seqSent = seqno
		if last {
			s.lastSent = true
			s.noData = uint8(BlockSeqSize - len(data))
			break
		}
	}
	s.logger.Debug("[TX] block upload sub-block",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"segments", s.seqSent,
		"last", s.lastSent,
	)
}

func (s *SDOServer) rxUploadBlockSubBlock(rx SDOMessage) (ServerState, error) {
	if !s.blockStarted {
		if rx.raw[0] != blockUploadStart {
			return s.state, AbortCmd
		}
		s.blockStarted = true
		s.txUploadBlockSubBlock()
		return ServerBlockUploadSub, nil
	}
	if rx.raw[0] != blockAck {
		return s.state, AbortCmd
	}
	ackseq := rx.GetAckSeq()
	blksize := rx.GetAckBlockSize()
	if ackseq > s.seqSent {
		return s.state, AbortSeqNum
	}
	if blksize < BlockMinSize || blksize > BlockMaxSize {
		return s.state, AbortBlockSize
	}
	s.logger.Debug("[RX] block upload ack",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"ackseq", ackseq,
		"blksize", blksize,
	)
	if ackseq == s.seqSent && s.lastSent {
		var checksum crc.CRC16
		if s.blockCRCEnabled {
			checksum = crc.Compute(s.req.Source())
		}
		s.send(newBlockEnd(s.noData, checksum))
		return ServerBlockUploadEnd, nil
	}
	if ackseq < s.seqSent {
		acked := s.blockStart + uint64(ackseq)*BlockSeqSize
		if err := s.req.SeekBack(s.req.Position() - acked); err != nil {
			return s.state, err
		}
		s.logger.Warn("[RX] block upload segments lost, resending",
			"index", fmt.Sprintf("x%x", s.index),
			"subindex", fmt.Sprintf("x%x", s.subindex),
			"ackseq", ackseq,
			"sent", s.seqSent,
		)
	}
	s.blockSize = blksize
	s.txUploadBlockSubBlock()
	return ServerBlockUploadSub, nil
}

func (s *SDOServer) rxUploadBlockEnd(rx SDOMessage) (ServerState, error) {
	if rx.raw[0] != blockEndResponse {
		return s.state, AbortCmd
	}
	s.logger.Debug("[RX] block upload end",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
	)
	return ServerWaiting, nil
}

func (c *SDOClient) txUploadBlockInitiate() ClientState {
	command := uint8(csBlockUpload)
	if c.crcSupported {
		command |= blockCRC
	}
	msg := newInitiate(command, c.index, c.subindex)
	msg.raw[4] = c.blockMaxSize
	msg.raw[5] = c.pst
	c.send(msg)
	c.logger.Debug("[TX] block upload init",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"blksize", c.blockMaxSize,
		"pst", c.pst,
	)
	return ClientBlockUploadInitiate
}

func (c *SDOClient) rxUploadBlockInitiate(rx SDOMessage) (ClientState, error) {
	switch {
	case rx.raw[0]&0xF9 == csBlockDownload:
		if err := c.checkAddress(rx); err != nil {
			return c.state, err
		}
		c.blockCRCEnabled = c.crcSupported && rx.IsCRCEnabled()
		if rx.IsSizeIndicatedBlock() {
			if err := c.req.SetSize(uint64(rx.GetSize())); err != nil {
				return c.state, err
			}
		}
		c.blockSize = c.blockMaxSize
		c.ackSeq = 0
		c.discarding = false
		c.logger.Debug("[RX] block upload init",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"crc", c.blockCRCEnabled,
			"raw", rx.raw,
		)
		c.send(newCommand(blockUploadStart))
		return ClientBlockUploadSub, nil
	case rx.Command() == scsUploadInitiate:
		c.logger.Debug("[RX] block upload switching to normal upload",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
		)
		return c.rxUploadInitiate(rx)
	}
	return c.state, AbortCmd
}

// Segments are only accepted in sequence, the last one is kept aside until
// the block end tells how many of its bytes are data.
func (c *SDOClient) rxUploadBlockSubBlock(rx SDOMessage) (ClientState, error) {
	seqno := rx.GetSeqNo()
	last := rx.IsLastBlockSegment()

	if seqno == c.ackSeq+1 {
		if seqno > c.blockSize {
			return c.state, AbortSeqNum
		}
		c.ackSeq = seqno
		c.discarding = false
		if last {
			copy(c.lastSegment[:], rx.raw[1:])
			c.send(newBlockAck(c.ackSeq, c.blockSize))
			return ClientBlockUploadEnd, nil
		}
		if _, err := c.req.Accept(rx.raw[1:]); err != nil {
			return c.state, err
		}
		if seqno == c.blockSize {
			c.send(newBlockAck(c.ackSeq, c.blockSize))
			c.ackSeq = 0
			c.notifyProgress()
		}
		return ClientBlockUploadSub, nil
	}

	if seqno > c.ackSeq+1 && !c.discarding {
		c.logger.Warn("[RX] block upload segment lost",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"seqno", seqno,
			"ackseq", c.ackSeq,
		)
		c.send(newBlockAck(c.ackSeq, c.blockSize))
		c.ackSeq = 0
		c.discarding = true
	}
	return ClientBlockUploadSub, nil
}

func (c *SDOClient) rxUploadBlockEnd(rx SDOMessage) (ClientState, error) {
	if rx.raw[0]&0xE3 != blockEnd {
		return c.state, AbortCmd
	}
	noData := rx.GetNoData()
	if _, err := c.req.Accept(c.lastSegment[:BlockSeqSize-noData]); err != nil {
		return c.state, err
	}
	if err := c.req.Finish(); err != nil {
		return c.state, err
	}
	if c.blockCRCEnabled {
		computed := crc.Compute(c.req.Bytes())
		if computed != rx.GetCRC() {
			c.logger.Warn("[RX] block upload crc mismatch",
				"expected", fmt.Sprintf("x%x", uint16(computed)),
				"received", fmt.Sprintf("x%x", uint16(rx.GetCRC())),
			)
			return c.state, AbortCRC
		}
	}
	c.logger.Debug("[RX] block upload end",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"size", c.req.Position(),
	)
	c.send(newCommand(blockEndResponse))
	return c.complete(), nil
}
