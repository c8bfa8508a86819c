package models

import "time"

// EmailAddress as returned by Graph recipients.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a message body; ContentType is "html" or "text".
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message mirrors the Graph message resource fields this app reads.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             *ItemBody   `json:"body,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients,omitempty"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	SentDateTime     time.Time   `json:"sentDateTime"`
	IsRead           bool        `json:"isRead"`
	Importance       string      `json:"importance"`
	HasAttachments   bool        `json:"hasAttachments"`
	WebLink          string      `json:"webLink"`
}

// MessageCollection is one page of /me/messages.
type MessageCollection struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink,omitempty"`
}

// Window is a half-open [Start, End) range of absolute instants.
type Window struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location"`
}
