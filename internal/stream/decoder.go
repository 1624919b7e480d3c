// Package stream decrypts and parses the brokerage realtime feed.
//
// Data frames arrive pipe-delimited as
//
//	[encryptedFlag]|[messageType]|[routingKey]|[payload]
//
// where an encrypted payload is AES-256-CBC over base64, keyed by the
// streaming credential, and the decrypted payload is a caret-delimited
// positional record. Everything else on the wire is a JSON control frame.
package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"equity-auto-trader/internal/domain"
)

// kst is the venue session timezone; tick times are HHMMSS in KST.
var kst = time.FixedZone("KST", 9*60*60)

// Message is one decoded frame. The set of concrete types is closed:
// TickMessage, ExecutionNotice, Heartbeat, ControlAck and Unrecognized.
type Message interface {
	message()
}

// TickMessage carries one execution tick.
type TickMessage struct {
	Tick domain.Tick
}

// ExecutionNotice reports an order execution event for the account.
type ExecutionNotice struct {
	Instrument string
	Quantity   int64
	Price      float64
	ExecTime   time.Time
	Filled     bool // false for plain order acks
}

// Heartbeat is the feed liveness frame; the raw payload must be echoed back.
type Heartbeat struct {
	Raw string
}

// ControlAck is any non-heartbeat JSON control frame, e.g. a subscribe ack.
type ControlAck struct {
	TRID    string
	MsgCode string
	Msg     string
}

// Unrecognized marks a data frame whose message-type tag is not in the
// schema table. Not an error: the pipeline stays forward-compatible with
// new tags.
type Unrecognized struct {
	TRID string
}

func (TickMessage) message()     {}
func (ExecutionNotice) message() {}
func (Heartbeat) message()       {}
func (ControlAck) message()      {}
func (Unrecognized) message()    {}

// DecodeError reports a malformed frame. The caller drops the frame and
// keeps the pipeline running.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

const (
	aesKeySize = 32
	aesIVSize  = 16
)

// Decoder decodes raw frames into typed messages. One decoder is built per
// feed connection, keyed by the streaming credential active for it.
type Decoder struct {
	key []byte
	iv  []byte
	now func() time.Time
}

// NewDecoder creates a decoder. Per the feed convention the cipher key is
// the first 32 bytes of the streaming credential and the IV its first 16.
func NewDecoder(streamingKey string) (*Decoder, error) {
	if len(streamingKey) < aesKeySize {
		return nil, fmt.Errorf("streaming key too short for cipher material: %d bytes", len(streamingKey))
	}
	return &Decoder{
		key: []byte(streamingKey[:aesKeySize]),
		iv:  []byte(streamingKey[:aesIVSize]),
		now: time.Now,
	}, nil
}

// WithClock overrides the decoder time source, for tests.
func (d *Decoder) WithClock(now func() time.Time) *Decoder {
	d.now = now
	return d
}

// Decode parses one raw frame. It returns a typed Message, or a
// *DecodeError for malformed frames.
func (d *Decoder) Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}

	// Data frames start with the encrypted flag; everything else is JSON.
	if raw[0] == '0' || raw[0] == '1' {
		return d.decodeData(string(raw))
	}
	return d.decodeControl(raw)
}

func (d *Decoder) decodeData(frame string) (Message, error) {
	parts := strings.SplitN(frame, "|", 4)
	if len(parts) < 4 {
		return nil, &DecodeError{Reason: fmt.Sprintf("envelope has %d segments, want 4", len(parts))}
	}

	encrypted := parts[0] == "1"
	trID := parts[1]
	payload := parts[3]

	if encrypted {
		plain, err := d.decrypt(payload)
		if err != nil {
			return nil, &DecodeError{Reason: "decrypt payload", Err: err}
		}
		payload = plain
	}

	fields := strings.Split(payload, "^")

	if schema, ok := tickSchemas[trID]; ok {
		return d.parseTick(schema, fields)
	}
	if schema, ok := execNoticeSchemas[trID]; ok {
		return d.parseExecNotice(schema, fields)
	}
	return Unrecognized{TRID: trID}, nil
}

func (d *Decoder) parseTick(schema tickSchema, fields []string) (Message, error) {
	if len(fields) < schema.minFields {
		return nil, &DecodeError{Reason: fmt.Sprintf("tick has %d fields, want >= %d", len(fields), schema.minFields)}
	}

	price, err := strconv.ParseFloat(fields[schema.price], 64)
	if err != nil {
		return nil, &DecodeError{Reason: "parse tick price", Err: err}
	}
	size, err := strconv.ParseInt(fields[schema.volume], 10, 64)
	if err != nil {
		return nil, &DecodeError{Reason: "parse tick volume", Err: err}
	}
	eventTime, err := d.sessionTime(fields[schema.execTime])
	if err != nil {
		return nil, &DecodeError{Reason: "parse tick time", Err: err}
	}

	return TickMessage{Tick: domain.Tick{
		Instrument: fields[schema.code],
		Price:      price,
		Size:       size,
		EventTime:  eventTime,
	}}, nil
}

func (d *Decoder) parseExecNotice(schema execNoticeSchema, fields []string) (Message, error) {
	if len(fields) < schema.minFields {
		return nil, &DecodeError{Reason: fmt.Sprintf("execution notice has %d fields, want >= %d", len(fields), schema.minFields)}
	}

	qty, err := strconv.ParseInt(fields[schema.qty], 10, 64)
	if err != nil {
		return nil, &DecodeError{Reason: "parse notice quantity", Err: err}
	}
	price, err := strconv.ParseFloat(fields[schema.price], 64)
	if err != nil {
		return nil, &DecodeError{Reason: "parse notice price", Err: err}
	}
	execTime, err := d.sessionTime(fields[schema.execTime])
	if err != nil {
		return nil, &DecodeError{Reason: "parse notice time", Err: err}
	}

	return ExecutionNotice{
		Instrument: fields[schema.code],
		Quantity:   qty,
		Price:      price,
		ExecTime:   execTime,
		Filled:     fields[schema.noticeKind] == "2",
	}, nil
}

type controlFrame struct {
	Header struct {
		TRID string `json:"tr_id"`
	} `json:"header"`
	Body struct {
		MsgCode string `json:"msg_cd"`
		Msg     string `json:"msg1"`
	} `json:"body"`
}

func (d *Decoder) decodeControl(raw []byte) (Message, error) {
	var frame controlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &DecodeError{Reason: "parse control frame", Err: err}
	}

	if frame.Header.TRID == TRPingPong {
		return Heartbeat{Raw: string(raw)}, nil
	}
	return ControlAck{
		TRID:    frame.Header.TRID,
		MsgCode: frame.Body.MsgCode,
		Msg:     frame.Body.Msg,
	}, nil
}

// decrypt reverses base64 + AES-256-CBC + PKCS#7.
func (d *Decoder) decrypt(payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d not a block multiple", len(data))
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, d.iv).CryptBlocks(plain, data)

	unpadded, err := pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding byte")
		}
	}
	return data[:len(data)-n], nil
}

// sessionTime combines an HHMMSS field with today's date in KST.
func (d *Decoder) sessionTime(hhmmss string) (time.Time, error) {
	if len(hhmmss) != 6 {
		return time.Time{}, fmt.Errorf("time field %q not HHMMSS", hhmmss)
	}
	h, err := strconv.Atoi(hhmmss[0:2])
	if err != nil {
		return time.Time{}, err
	}
	m, err := strconv.Atoi(hhmmss[2:4])
	if err != nil {
		return time.Time{}, err
	}
	s, err := strconv.Atoi(hhmmss[4:6])
	if err != nil {
		return time.Time{}, err
	}
	if h > 23 || m > 59 || s > 59 {
		return time.Time{}, fmt.Errorf("time field %q out of range", hhmmss)
	}

	now := d.now().In(kst)
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, kst), nil
}
