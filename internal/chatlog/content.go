package chatlog

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageContent is the tagged set of message body variants.
type MessageContent interface {
	ContentKind() string
}

// Content kind tags. These are persisted; do not rename.
const (
	ContentText    = "text"
	ContentImage   = "image"
	ContentFile    = "file"
	ContentPoll    = "poll"
	ContentCrypto  = "crypto"
	ContentPrize   = "prize"
	ContentDeleted = "deleted"
)

type TextContent struct {
	Text string `json:"text"`
}

func (*TextContent) ContentKind() string { return ContentText }

type ImageContent struct {
	BlobID   uuid.UUID `json:"blob_id"`
	MimeType string    `json:"mime_type"`
	Width    uint32    `json:"width"`
	Height   uint32    `json:"height"`
	Caption  string    `json:"caption,omitempty"`
}

func (*ImageContent) ContentKind() string { return ContentImage }

type FileContent struct {
	BlobID   uuid.UUID `json:"blob_id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mime_type"`
	Size     uint64    `json:"size"`
}

func (*FileContent) ContentKind() string { return ContentFile }

type PollContent struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	EndDate       int64    `json:"end_date,omitempty"` // unix ms, 0 = open-ended
	Anonymous     bool     `json:"anonymous,omitempty"`
	AllowMultiple bool     `json:"allow_multiple,omitempty"`
}

func (*PollContent) ContentKind() string { return ContentPoll }

// CryptoTransferStatus reflects the state of the funds movement attached to a
// crypto message. The transfer executes before the message mutation; a send
// never blocks on it.
type CryptoTransferStatus string

const (
	TransferPending   CryptoTransferStatus = "pending"
	TransferCompleted CryptoTransferStatus = "completed"
	TransferFailed    CryptoTransferStatus = "failed"
)

type CryptoTransfer struct {
	Status     CryptoTransferStatus `json:"status"`
	Token      string               `json:"token"`
	AmountE8s  uint64               `json:"amount_e8s"`
	Recipient  uuid.UUID            `json:"recipient"`
	BlockIndex uint64               `json:"block_index,omitempty"`
}

type CryptoContent struct {
	Transfer CryptoTransfer `json:"transfer"`
	Caption  string         `json:"caption,omitempty"`
}

func (*CryptoContent) ContentKind() string { return ContentCrypto }

type PrizeContent struct {
	Token           string `json:"token"`
	PrizesRemaining uint32 `json:"prizes_remaining"`
	EndDate         int64  `json:"end_date"`
	Caption         string `json:"caption,omitempty"`
}

func (*PrizeContent) ContentKind() string { return ContentPrize }

// DeletedContent replaces a message body once a tombstone event lands.
type DeletedContent struct {
	DeletedBy uuid.UUID `json:"deleted_by"`
	Timestamp int64     `json:"timestamp"`
}

func (*DeletedContent) ContentKind() string { return ContentDeleted }

// DecodeContent builds a MessageContent from its kind tag and JSON body.
func DecodeContent(kind string, raw json.RawMessage) (MessageContent, error) {
	return unmarshalContent(kind, raw)
}

func unmarshalContent(kind string, raw json.RawMessage) (MessageContent, error) {
	var c MessageContent
	switch kind {
	case ContentText:
		c = &TextContent{}
	case ContentImage:
		c = &ImageContent{}
	case ContentFile:
		c = &FileContent{}
	case ContentPoll:
		c = &PollContent{}
	case ContentCrypto:
		c = &CryptoContent{}
	case ContentPrize:
		c = &PrizeContent{}
	case ContentDeleted:
		c = &DeletedContent{}
	default:
		return nil, fmt.Errorf("chatlog: unknown content kind %q", kind)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
