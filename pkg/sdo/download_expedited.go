package sdo

import (
	"fmt"
)

func (s *SDOServer) rxDownloadInitiate(rx SDOMessage) (ServerState, error) {
	if rx.IsExpedited() {
		count := rx.GetExpeditedSize()
		if !rx.IsSizeIndicated() {
			// Size not indicated, use the object size if smaller
			if size, fixed := s.object.Size(); fixed && size < 4 {
				count = int(size)
			}
		} else if err := s.checkObjectSize(uint64(count)); err != nil {
			return ServerWaiting, err
		}
		s.logger.Debug("[RX] download expedited",
			"index", fmt.Sprintf("x%x", s.index),
			"subindex", fmt.Sprintf("x%x", s.subindex),
			"raw", rx.raw,
		)
		s.req.BeginReceive(uint64(count), true)
		if _, err := s.req.Accept(rx.raw[4 : 4+count]); err != nil {
			return ServerWaiting, err
		}
		if err := s.object.Download(s.req); err != nil {
			return ServerWaiting, err
		}
		s.send(newInitiate(scsDownloadInitiate, s.index, s.subindex))
		return ServerWaiting, nil
	}

	var size uint64
	known := rx.IsSizeIndicated()
	if known {
		size = uint64(rx.GetSize())
		if err := s.checkObjectSize(size); err != nil {
			return ServerWaiting, err
		}
	}
	s.logger.Debug("[RX] download segmented init",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"size", size,
		"raw", rx.raw,
	)
	s.req.BeginReceive(size, known)
	s.toggle = 0
	s.send(newInitiate(scsDownloadInitiate, s.index, s.subindex))
	return ServerDownloadSegment, nil
}

func (c *SDOClient) txDownloadInitiate() ClientState {
	size, _ := c.req.Size()
	if size > 0 && size <= 4 {
		data := c.req.Next(4)
		c.expedited = true
		c.send(newExpedited(csDownloadInitiate, c.index, c.subindex, data))
		c.logger.Debug("[TX] download expedited",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"data", data,
		)
		return ClientDownloadInitiate
	}
	msg := newInitiate(csDownloadInitiate, c.index, c.subindex)
	msg.setSize(uint32(size))
	c.send(msg)
	c.logger.Debug("[TX] download segmented init",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"size", size,
	)
	return ClientDownloadInitiate
}

func (c *SDOClient) rxDownloadInitiate(rx SDOMessage) (ClientState, error) {
	if rx.raw[0] != scsDownloadInitiate {
		return c.state, AbortCmd
	}
	if err := c.checkAddress(rx); err != nil {
		return c.state, err
	}
	if c.expedited {
		c.logger.Debug("[RX] download expedited",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
		)
		return c.complete(), nil
	}
	c.toggle = 0
	c.txDownloadSegment()
	return ClientDownloadSegment, nil
}
