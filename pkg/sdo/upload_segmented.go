package sdo

import (
	"fmt"
)

func (s *SDOServer) rxUploadSegment(rx SDOMessage) (ServerState, error) {
	if rx.raw[0]&^toggleBit != csUploadSegment {
		return s.state, AbortCmd
	}
	if rx.GetToggle() != s.toggle {
		return s.state, AbortToggleBit
	}
	data := s.req.Next(BlockSeqSize)
	last := s.req.IsLast()
	s.send(newSegment(scsUploadSegment, s.toggle, data, last))
	s.logger.Debug("[TX] upload segment",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"toggle", s.toggle,
		"last", last,
	)
	s.toggle ^= toggleBit
	if last {
		return ServerWaiting, nil
	}
	return ServerUploadSegment, nil
}

func (c *SDOClient) rxUploadSegment(rx SDOMessage) (ClientState, error) {
	if rx.Command() != scsUploadSegment {
		return c.state, AbortCmd
	}
	if rx.GetToggle() != c.toggle {
		return c.state, AbortToggleBit
	}
	count := rx.GetSegmentSize()
	last := rx.IsLastSegment()
	c.logger.Debug("[RX] upload segment",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"count", count,
		"last", last,
		"raw", rx.raw,
	)
	if _, err := c.req.Accept(rx.raw[1 : 1+count]); err != nil {
		return c.state, err
	}
	c.toggle ^= toggleBit
	c.notifyProgress()
	if last {
		if err := c.req.Finish(); err != nil {
			return c.state, err
		}
		return c.complete(), nil
	}
	c.send(newCommand(csUploadSegment | c.toggle))
	return ClientUploadSegment, nil
}
