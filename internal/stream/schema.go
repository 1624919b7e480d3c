package stream

// Venue message-type tags carried in the frame envelope.
const (
	// TRTickDomestic is a domestic equity execution tick.
	TRTickDomestic = "H0STCNT0"
	// TRExecNoticeLive / TRExecNoticePaper are order execution notices.
	TRExecNoticeLive  = "H0STCNI0"
	TRExecNoticePaper = "H0STCNI9"
	// TRPingPong is the feed heartbeat, delivered as a JSON control frame.
	TRPingPong = "PINGPONG"
)

// tickSchema maps caret-delimited field positions to tick fields for one
// message type. The feed is positional; a schema table keeps the decoder
// closed over known tags while unknown tags fall through to Unrecognized.
type tickSchema struct {
	minFields int
	code      int // instrument code
	execTime  int // HHMMSS execution time
	price     int // traded price
	volume    int // traded quantity
}

var tickSchemas = map[string]tickSchema{
	TRTickDomestic: {
		minFields: 13,
		code:      0,
		execTime:  1,
		price:     2,
		volume:    12,
	},
}

// execNoticeSchema maps fields of an execution notice record.
type execNoticeSchema struct {
	minFields  int
	code       int
	qty        int
	price      int
	execTime   int
	noticeKind int // "2" marks a fill, other values are acks
}

var execNoticeSchemas = map[string]execNoticeSchema{
	TRExecNoticeLive: {
		minFields:  25,
		code:       8,
		qty:        9,
		price:      10,
		execTime:   11,
		noticeKind: 13,
	},
	TRExecNoticePaper: {
		minFields:  25,
		code:       8,
		qty:        9,
		price:      10,
		execTime:   11,
		noticeKind: 13,
	},
}
