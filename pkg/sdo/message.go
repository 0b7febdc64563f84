package sdo

import (
	"encoding/binary"
	"fmt"

	"github.com/samsamfire/gosdo/internal/crc"
)

// Command byte fields (CiA 301)
const (
	sizeIndicated      = 1 << 0
	transferExpedited  = 1 << 1
	toggleBit          = 0x10
	blockCRC           = 1 << 2
	blockSizeIndicated = 1 << 1
	blockLastSegment   = 0x80
	commandMask        = 0xE0
)

// Command specifiers, i.e. bits 5..7 of byte 0
const (
	csDownloadSegment  = 0x00
	csDownloadInitiate = 0x20
	csUploadInitiate   = 0x40
	csUploadSegment    = 0x60
	csAbort            = 0x80
	csBlockUpload      = 0xA0
	csBlockDownload    = 0xC0
)

// Server command specifiers
const (
	scsUploadSegment    = 0x00
	scsDownloadSegment  = 0x20
	scsUploadInitiate   = 0x40
	scsDownloadInitiate = 0x60
)

// Block sub-commands
const (
	blockEndResponse = csBlockUpload | 0x01
	blockAck         = csBlockUpload | 0x02
	blockUploadStart = csBlockUpload | 0x03
	blockEnd         = csBlockDownload | 0x01
)

// SDOMessage is the 8 byte payload of an SDO frame
type SDOMessage struct {
	raw [8]byte
}

func (msg SDOMessage) String() string {
	return fmt.Sprintf("% x", msg.raw[:])
}

func (msg *SDOMessage) Command() uint8 {
	return msg.raw[0] & commandMask
}

func (msg *SDOMessage) IsAbort() bool {
	return msg.raw[0] == csAbort
}

func (msg *SDOMessage) GetAbortCode() Abort {
	return Abort(binary.LittleEndian.Uint32(msg.raw[4:]))
}

func (msg *SDOMessage) GetIndex() uint16 {
	return binary.LittleEndian.Uint16(msg.raw[1:3])
}

func (msg *SDOMessage) GetSubindex() uint8 {
	return msg.raw[3]
}

func (msg *SDOMessage) GetToggle() uint8 {
	return msg.raw[0] & toggleBit
}

func (msg *SDOMessage) IsSizeIndicated() bool {
	return msg.raw[0]&sizeIndicated != 0
}

// Block initiate frames carry the size indicator in bit 1
func (msg *SDOMessage) IsSizeIndicatedBlock() bool {
	return msg.raw[0]&blockSizeIndicated != 0
}

func (msg *SDOMessage) IsExpedited() bool {
	return msg.raw[0]&transferExpedited != 0
}

// Size of initiate frames, bytes 4..7
func (msg *SDOMessage) GetSize() uint32 {
	return binary.LittleEndian.Uint32(msg.raw[4:])
}

// Number of bytes of an expedited frame
func (msg *SDOMessage) GetExpeditedSize() int {
	if !msg.IsSizeIndicated() {
		return 4
	}
	return 4 - int((msg.raw[0]>>2)&0x03)
}

// Number of bytes of a (non block) segment
func (msg *SDOMessage) GetSegmentSize() int {
	return BlockSeqSize - int((msg.raw[0]>>1)&0x07)
}

func (msg *SDOMessage) IsLastSegment() bool {
	return msg.raw[0]&0x01 != 0
}

// Block initiate request & reply, block ack
func (msg *SDOMessage) GetBlockSize() uint8 {
	return msg.raw[4]
}

func (msg *SDOMessage) IsCRCEnabled() bool {
	return msg.raw[0]&blockCRC != 0
}

// Protocol switch threshold of a block upload initiate request
func (msg *SDOMessage) GetProtocolSwitchThreshold() uint8 {
	return msg.raw[5]
}

func (msg *SDOMessage) GetAckSeq() uint8 {
	return msg.raw[1]
}

func (msg *SDOMessage) GetAckBlockSize() uint8 {
	return msg.raw[2]
}

// Block segments : sequence number and last flag in byte 0
func (msg *SDOMessage) GetSeqNo() uint8 {
	return msg.raw[0] & 0x7F
}

func (msg *SDOMessage) IsLastBlockSegment() bool {
	return msg.raw[0]&blockLastSegment != 0
}

// Block end : number of bytes without data in the last segment
func (msg *SDOMessage) GetNoData() uint8 {
	return (msg.raw[0] >> 2) & 0x07
}

func (msg *SDOMessage) GetCRC() crc.CRC16 {
	return crc.CRC16(binary.LittleEndian.Uint16(msg.raw[1:3]))
}

// Frame builders

func newInitiate(command uint8, index uint16, subindex uint8) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = command
	binary.LittleEndian.PutUint16(msg.raw[1:3], index)
	msg.raw[3] = subindex
	return msg
}

func newAbortMessage(index uint16, subindex uint8, code Abort) SDOMessage {
	msg := newInitiate(csAbort, index, subindex)
	binary.LittleEndian.PutUint32(msg.raw[4:], uint32(code))
	return msg
}

func (msg *SDOMessage) setSize(size uint32) {
	msg.raw[0] |= sizeIndicated
	binary.LittleEndian.PutUint32(msg.raw[4:], size)
}

func (msg *SDOMessage) setBlockSize(size uint32) {
	msg.raw[0] |= blockSizeIndicated
	binary.LittleEndian.PutUint32(msg.raw[4:], size)
}

// expedited command carrying 1 to 4 bytes in bytes 4..7
func newExpedited(command uint8, index uint16, subindex uint8, data []byte) SDOMessage {
	msg := newInitiate(command|transferExpedited|sizeIndicated|byte(4-len(data))<<2, index, subindex)
	copy(msg.raw[4:], data)
	return msg
}

// segment carrying up to 7 bytes, same layout for download and upload
func newSegment(command uint8, toggle uint8, data []byte, last bool) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = command | toggle | byte(BlockSeqSize-len(data))<<1
	if last {
		msg.raw[0] |= 0x01
	}
	copy(msg.raw[1:], data)
	return msg
}

func newBlockSegment(seqno uint8, data []byte, last bool) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = seqno
	if last {
		msg.raw[0] |= blockLastSegment
	}
	copy(msg.raw[1:], data)
	return msg
}

func newBlockAck(ackseq uint8, blksize uint8) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = blockAck
	msg.raw[1] = ackseq
	msg.raw[2] = blksize
	return msg
}

// Block end, sent by the side producing the data in both directions.
func newBlockEnd(noData uint8, checksum crc.CRC16) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = blockEnd | noData<<2
	binary.LittleEndian.PutUint16(msg.raw[1:3], uint16(checksum))
	return msg
}

// single command byte frames, e.g. block upload start
func newCommand(command uint8) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = command
	return msg
}
