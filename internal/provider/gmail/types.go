package gmail

// ListResponse is the response from GET /messages.
type ListResponse struct {
	Messages           []MessageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int          `json:"resultSizeEstimate"`
}

// MessageRef is the id/threadId stub returned by list calls.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Message is a full or metadata-format Gmail message.
type Message struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      *Part    `json:"payload"`
}

// Part is one node of the Gmail payload tree.
type Part struct {
	PartID   string   `json:"partId"`
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers"`
	Body     PartBody `json:"body"`
	Parts    []Part   `json:"parts"`
}

// Header is a single message header as carried in the payload.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds the content of one part, base64url encoded, or a
// reference to a separately fetched attachment.
type PartBody struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

// ModifyRequest is the body of POST /messages/{id}/modify.
type ModifyRequest struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

// SendRequest is the body of POST /messages/send: the whole RFC 5322
// message, base64url encoded.
type SendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

// DraftRequest is the body of POST /drafts.
type DraftRequest struct {
	Message SendRequest `json:"message"`
}

// DraftResponse is the response from POST /drafts.
type DraftResponse struct {
	ID      string     `json:"id"`
	Message MessageRef `json:"message"`
}

// BatchDeleteRequest is the body of POST /messages/batchDelete.
type BatchDeleteRequest struct {
	IDs []string `json:"ids"`
}

// ErrorResponse is the standard Gmail API error envelope.
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
