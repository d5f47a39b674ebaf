package models

import "time"

// ArtifactRef points at a content-addressed blob in the artifact store.
// Events reference artifacts by hash value, never by path.
type ArtifactRef struct {
	SHA256       string `json:"sha256"`
	OriginalName string `json:"original_name,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Description  string `json:"description,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}

// ArtifactPayload carries raw bytes a tool wants persisted. The orchestrator
// stores the payload and replaces it with an ArtifactRef before the result is
// appended to the session log.
type ArtifactPayload struct {
	Name        string `json:"name"`
	MediaType   string `json:"media_type,omitempty"`
	Description string `json:"description,omitempty"`
	Data        []byte `json:"data"`
}

// ArtifactMeta is the stored metadata row for one blob.
type ArtifactMeta struct {
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	MediaType string    `json:"media_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
