package domain

// Attachment is a file sent with the weekly report and archived with it.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
