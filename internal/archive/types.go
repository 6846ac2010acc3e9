package archive

// ManifestEntry is one line of the monthly media manifest. The sender is
// stored hashed.
type ManifestEntry struct {
	MessageID  string `json:"message_id"`
	MediaID    string `json:"media_id"`
	NumberID   string `json:"number_id"`
	PhoneHash  string `json:"phone_hash"`
	Type       string `json:"type"`
	MimeType   string `json:"mime_type"`
	Size       int    `json:"size"`
	S3Key      string `json:"s3_key"`
	ArchivedAt string `json:"archived_at"`
}
