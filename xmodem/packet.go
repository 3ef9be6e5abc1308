// Package xmodem implements the XMODEM and XMODEM-8k file transfer
// protocol spoken by the controller firmware.
//
// Packets carry a length prefix ahead of the padded payload, and the
// first packet of every transfer holds a metadata string (the file
// digest) instead of file data.
package xmodem

import (
	"errors"
	"fmt"
)

const (
	SOH byte = 0x01
	STX byte = 0x02
	EOT byte = 0x04
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x16
	CRC byte = 'C'

	// DefaultPad fills short payloads.
	DefaultPad byte = 0x1a
)

// Mode selects the packet size.
type Mode int

const (
	// Classic uses 128 byte packets started by SOH.
	Classic Mode = iota
	// Batch uses 8192 byte packets started by STX.
	Batch
)

func (m Mode) String() string {
	switch m {
	case Classic:
		return "xmodem"
	case Batch:
		return "xmodem8k"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// PacketSize is the padded payload size.
func (m Mode) PacketSize() int {
	if m == Batch {
		return 8192
	}
	return 128
}

func (m Mode) marker() byte {
	if m == Batch {
		return STX
	}
	return SOH
}

// prefixLen is the width of the payload length field.
func (m Mode) prefixLen() int {
	if m.PacketSize() > 0xff {
		return 2
	}
	return 1
}

func (m Mode) valid() bool { return m == Classic || m == Batch }

func modeFor(marker byte) (Mode, bool) {
	switch marker {
	case SOH:
		return Classic, true
	case STX:
		return Batch, true
	}
	return 0, false
}

func checksumLen(crc bool) int {
	if crc {
		return 2
	}
	return 1
}

// PacketLen is the number of bytes on the wire for one packet.
func PacketLen(m Mode, crc bool) int {
	return 3 + m.prefixLen() + m.PacketSize() + checksumLen(crc)
}

var (
	ErrPayloadTooLarge = errors.New("payload exceeds packet size")
	ErrShortPacket     = errors.New("short packet")
	ErrBadMarker       = errors.New("bad start marker")
	ErrBadSequence     = errors.New("sequence complement mismatch")
	ErrBadLength       = errors.New("length prefix exceeds packet size")
	ErrChecksum        = errors.New("checksum mismatch")
)

// EncodePacket frames payload as packet seq.
func EncodePacket(m Mode, crc bool, seq byte, payload []byte, pad byte) ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	size := m.PacketSize()
	if len(payload) > size {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), size)
	}

	pkt := make([]byte, 0, PacketLen(m, crc))
	pkt = append(pkt, m.marker(), seq, 0xff-seq)

	body := len(pkt)
	if m.prefixLen() == 2 {
		pkt = append(pkt, byte(len(payload)>>8))
	}
	pkt = append(pkt, byte(len(payload)))
	pkt = append(pkt, payload...)
	for i := len(payload); i < size; i++ {
		pkt = append(pkt, pad)
	}

	if crc {
		sum := CRC16(pkt[body:])
		pkt = append(pkt, byte(sum>>8), byte(sum))
	} else {
		pkt = append(pkt, Checksum8(pkt[body:]))
	}
	return pkt, nil
}

// DecodePacket verifies a complete packet and returns its sequence
// number and unpadded payload. The mode is taken from the start marker.
func DecodePacket(pkt []byte, crc bool) (seq byte, payload []byte, err error) {
	if len(pkt) == 0 {
		return 0, nil, ErrShortPacket
	}
	m, ok := modeFor(pkt[0])
	if !ok {
		return 0, nil, fmt.Errorf("%w: 0x%02x", ErrBadMarker, pkt[0])
	}
	if len(pkt) < PacketLen(m, crc) {
		return 0, nil, fmt.Errorf("%w: %d of %d bytes", ErrShortPacket, len(pkt), PacketLen(m, crc))
	}
	pkt = pkt[:PacketLen(m, crc)]

	seq = pkt[1]
	if pkt[2] != 0xff-seq {
		return seq, nil, fmt.Errorf("%w: %d/%d", ErrBadSequence, seq, pkt[2])
	}

	cl := checksumLen(crc)
	body, sum := pkt[3:len(pkt)-cl], pkt[len(pkt)-cl:]
	if crc {
		theirs := uint16(sum[0])<<8 | uint16(sum[1])
		if ours := CRC16(body); ours != theirs {
			return seq, nil, fmt.Errorf("%w: theirs=%04x ours=%04x", ErrChecksum, theirs, ours)
		}
	} else if ours := Checksum8(body); ours != sum[0] {
		return seq, nil, fmt.Errorf("%w: theirs=%02x ours=%02x", ErrChecksum, sum[0], ours)
	}

	var n int
	if m.prefixLen() == 2 {
		n = int(body[0])<<8 | int(body[1])
	} else {
		n = int(body[0])
	}
	data := body[m.prefixLen():]
	if n > len(data) {
		return seq, nil, fmt.Errorf("%w: %d", ErrBadLength, n)
	}
	return seq, append([]byte(nil), data[:n]...), nil
}
