package sdo

import (
	"fmt"
)

func (s *SDOServer) rxDownloadSegment(rx SDOMessage) (ServerState, error) {
	if rx.Command() != csDownloadSegment {
		return s.state, AbortCmd
	}
	if rx.GetToggle() != s.toggle {
		return s.state, AbortToggleBit
	}
	count := rx.GetSegmentSize()
	last := rx.IsLastSegment()
	s.logger.Debug("[RX] download segment",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"count", count,
		"last", last,
		"raw", rx.raw,
	)
	if _, err := s.req.Accept(rx.raw[1 : 1+count]); err != nil {
		return s.state, err
	}
	if last {
		if err := s.req.Finish(); err != nil {
			return s.state, err
		}
	}
	if err := s.object.Download(s.req); err != nil {
		return s.state, err
	}
	s.send(newCommand(scsDownloadSegment | s.toggle))
	s.toggle ^= toggleBit
	if last {
		return ServerWaiting, nil
	}
	return ServerDownloadSegment, nil
}

func (c *SDOClient) txDownloadSegment() {
	data := c.req.Next(BlockSeqSize)
	c.lastSent = c.req.IsLast()
	c.send(newSegment(csDownloadSegment, c.toggle, data, c.lastSent))
	c.logger.Debug("[TX] download segment",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"toggle", c.toggle,
		"last", c.lastSent,
	)
}

func (c *SDOClient) rxDownloadSegment(rx SDOMessage) (ClientState, error) {
	if rx.raw[0]&^toggleBit != scsDownloadSegment {
		return c.state, AbortCmd
	}
	if rx.GetToggle() != c.toggle {
		return c.state, AbortToggleBit
	}
	c.toggle ^= toggleBit
	c.notifyProgress()
	if c.lastSent {
		return c.complete(), nil
	}
	c.txDownloadSegment()
	return ClientDownloadSegment, nil
}
