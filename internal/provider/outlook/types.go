package outlook

// ListResponse is the Graph collection envelope.
type ListResponse struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// Message is one Graph mail message.
type Message struct {
	ID               string       `json:"id"`
	ConversationID   string       `json:"conversationId"`
	Subject          string       `json:"subject"`
	BodyPreview      string       `json:"bodyPreview"`
	ReceivedDateTime string       `json:"receivedDateTime"`
	IsRead           bool         `json:"isRead"`
	HasAttachments   bool         `json:"hasAttachments"`
	Flag             *Flag        `json:"flag,omitempty"`
	From             *Recipient   `json:"from,omitempty"`
	ToRecipients     []Recipient  `json:"toRecipients,omitempty"`
	Body             *ItemBody    `json:"body,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	InternetMessageHeaders []InternetMessageHeader `json:"internetMessageHeaders,omitempty"`
}

// Flag carries the follow-up flag state.
type Flag struct {
	FlagStatus string `json:"flagStatus"`
}

// Recipient wraps an email address with an optional display name.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress is the name/address pair Graph uses everywhere.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// ItemBody is a message body with its content type.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Attachment is a Graph fileAttachment.
type Attachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size,omitempty"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// InternetMessageHeader is one raw RFC 5322 header.
type InternetMessageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PatchRequest is the body of a PATCH /messages/{id} call. Pointer
// fields keep untouched properties out of the payload.
type PatchRequest struct {
	IsRead *bool `json:"isRead,omitempty"`
	Flag   *Flag `json:"flag,omitempty"`
}

// MoveRequest is the body of POST /messages/{id}/move.
type MoveRequest struct {
	DestinationID string `json:"destinationId"`
}

// SendMailRequest is the body of POST /sendMail.
type SendMailRequest struct {
	Message         OutboundMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// OutboundMessage is the message envelope inside sendMail.
type OutboundMessage struct {
	Subject       string       `json:"subject"`
	Body          ItemBody     `json:"body"`
	ToRecipients  []Recipient  `json:"toRecipients"`
	CcRecipients  []Recipient  `json:"ccRecipients,omitempty"`
	BccRecipients []Recipient  `json:"bccRecipients,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// ErrorResponse is the Graph error envelope.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
