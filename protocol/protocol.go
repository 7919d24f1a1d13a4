package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Wire format, host -> device:
//
//	SIGNATURE SIGNATURE op addr nw nr w[nw]
//
// device -> host:
//
//	SIGNATURE SIGNATURE status n data[n]
type Op uint8

const (
	OP_TX Op = iota + 1
	OP_SCAN
)

type Status uint8

const (
	STATUS_OK Status = iota
	STATUS_ERROR
	STATUS_BAD_REQUEST
)

const (
	SIGNATURE uint8 = 0x69

	requestHeaderLen  = 6
	responseHeaderLen = 4
	MaxPayload        = 255
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds 255 bytes")
	ErrBadSignature    = errors.New("bad frame signature")
)

type Request struct {
	Op      Op
	Addr    uint8
	Write   []byte
	ReadLen uint8
}

type Response struct {
	Status Status
	Data   []byte
}

func (op Op) String() string {
	switch op {
	case OP_TX:
		return "Tx"
	case OP_SCAN:
		return "Scan"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

func (s Status) String() string {
	switch s {
	case STATUS_OK:
		return "OK"
	case STATUS_ERROR:
		return "Error"
	case STATUS_BAD_REQUEST:
		return "BadRequest"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func MarshalRequest(r Request) ([]byte, error) {
	if len(r.Write) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, requestHeaderLen+len(r.Write))
	out = append(out, SIGNATURE, SIGNATURE, uint8(r.Op), r.Addr, uint8(len(r.Write)), r.ReadLen)
	return append(out, r.Write...), nil
}

// UnmarshalRequest parses one complete request frame.
func UnmarshalRequest(data []byte) (Request, bool) {
	if len(data) < requestHeaderLen || !IsFrameAtStart(data) {
		return Request{}, false
	}
	nw := int(data[4])
	if len(data) != requestHeaderLen+nw {
		return Request{}, false
	}
	req := Request{
		Op:      Op(data[2]),
		Addr:    data[3],
		ReadLen: data[5],
	}
	if nw > 0 {
		req.Write = append([]byte(nil), data[requestHeaderLen:]...)
	}
	return req, true
}

func MarshalResponse(r Response) []byte {
	data := r.Data
	if len(data) > MaxPayload {
		data = data[:MaxPayload]
	}
	out := make([]byte, 0, responseHeaderLen+len(data))
	out = append(out, SIGNATURE, SIGNATURE, uint8(r.Status), uint8(len(data)))
	return append(out, data...)
}

// ReadResponse blocks until one whole response frame has been read from r.
func ReadResponse(r io.Reader) (Response, error) {
	hdr := make([]byte, responseHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Response{}, err
	}
	if !IsFrameAtStart(hdr) {
		return Response{}, fmt.Errorf("%w: % X", ErrBadSignature, hdr[:2])
	}
	resp := Response{Status: Status(hdr[2])}
	if n := int(hdr[3]); n > 0 {
		resp.Data = make([]byte, n)
		if _, err := io.ReadFull(r, resp.Data); err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}

func IsFrameAtStart(data []byte) bool {
	if len(data) < 2 || data[0] != SIGNATURE || data[1] != SIGNATURE {
		return false
	}
	return true
}

// RequestDecoder reassembles request frames from a byte stream, skipping
// anything that does not start with the signature.
type RequestDecoder struct {
	buf []byte
}

func (d *RequestDecoder) Feed(b byte) (Request, bool) {
	d.buf = append(d.buf, b)
	switch len(d.buf) {
	case 1:
		if b != SIGNATURE {
			d.buf = d.buf[:0]
		}
		return Request{}, false
	case 2:
		if b != SIGNATURE {
			d.buf = d.buf[:0]
		}
		return Request{}, false
	}
	if len(d.buf) < requestHeaderLen {
		return Request{}, false
	}
	if len(d.buf) < requestHeaderLen+int(d.buf[4]) {
		return Request{}, false
	}
	req, ok := UnmarshalRequest(d.buf)
	d.buf = d.buf[:0]
	return req, ok
}

// TxFunc matches the Tx method of machine.I2C and drivers.I2C.
type TxFunc func(addr uint16, w, r []byte) error

// Handle executes req against tx and builds the reply.
func Handle(req Request, tx TxFunc) Response {
	if req.Addr > 0x7F {
		return Response{Status: STATUS_BAD_REQUEST, Data: []byte("address out of range")}
	}
	switch req.Op {
	case OP_TX:
		var r []byte
		if req.ReadLen > 0 {
			r = make([]byte, req.ReadLen)
		}
		if err := tx(uint16(req.Addr), req.Write, r); err != nil {
			return Response{Status: STATUS_ERROR, Data: []byte(err.Error())}
		}
		return Response{Status: STATUS_OK, Data: r}
	case OP_SCAN:
		var found []byte
		probe := make([]byte, 1)
		for addr := uint16(0x08); addr <= 0x77; addr++ {
			if tx(addr, nil, probe) == nil {
				found = append(found, uint8(addr))
			}
		}
		return Response{Status: STATUS_OK, Data: found}
	default:
		return Response{Status: STATUS_BAD_REQUEST, Data: []byte("unknown op " + req.Op.String())}
	}
}
