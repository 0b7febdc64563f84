package sdo

import (
	"fmt"
)

func (s *SDOServer) rxUploadInitiate(rx SDOMessage) (ServerState, error) {
	if err := s.object.Upload(s.req); err != nil {
		return ServerWaiting, err
	}
	s.logger.Debug("[RX] upload initiate",
		"index", fmt.Sprintf("x%x", s.index),
		"subindex", fmt.Sprintf("x%x", s.subindex),
		"raw", rx.raw,
	)
	return s.txUploadInitiate()
}

// txUploadInitiate answers an upload request once the object has begun
// sending its value. Empty values are answered with a size of 0 and no
// segment follows.
func (s *SDOServer) txUploadInitiate() (ServerState, error) {
	size, _ := s.req.Size()
	if size > MaxTransferSize {
		return ServerWaiting, AbortDataLong
	}
	if size > 0 && size <= 4 {
		s.send(newExpedited(scsUploadInitiate, s.index, s.subindex, s.req.Next(4)))
		return ServerWaiting, nil
	}
	msg := newInitiate(scsUploadInitiate, s.index, s.subindex)
	msg.setSize(uint32(size))
	s.send(msg)
	if size == 0 {
		return ServerWaiting, nil
	}
	s.toggle = 0
	return ServerUploadSegment, nil
}

func (c *SDOClient) txUploadInitiate() ClientState {
	c.send(newInitiate(csUploadInitiate, c.index, c.subindex))
	c.logger.Debug("[TX] upload initiate",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
	)
	return ClientUploadInitiate
}

func (c *SDOClient) rxUploadInitiate(rx SDOMessage) (ClientState, error) {
	if rx.Command() != scsUploadInitiate {
		return c.state, AbortCmd
	}
	if err := c.checkAddress(rx); err != nil {
		return c.state, err
	}
	if rx.IsExpedited() {
		count := rx.GetExpeditedSize()
		c.logger.Debug("[RX] upload expedited",
			"index", fmt.Sprintf("x%x", c.index),
			"subindex", fmt.Sprintf("x%x", c.subindex),
			"raw", rx.raw,
		)
		c.req.BeginReceive(uint64(count), true)
		if _, err := c.req.Accept(rx.raw[4 : 4+count]); err != nil {
			return c.state, err
		}
		return c.complete(), nil
	}
	if rx.IsSizeIndicated() {
		size := uint64(rx.GetSize())
		if err := c.req.SetSize(size); err != nil {
			return c.state, err
		}
		if size == 0 {
			return c.complete(), nil
		}
	}
	c.logger.Debug("[RX] upload segmented init",
		"index", fmt.Sprintf("x%x", c.index),
		"subindex", fmt.Sprintf("x%x", c.subindex),
		"raw", rx.raw,
	)
	c.toggle = 0
	c.send(newCommand(csUploadSegment | c.toggle))
	return ClientUploadSegment, nil
}
