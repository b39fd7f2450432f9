package domain

import "time"

// ─── Model Records ──────────────────────────────────────────────────────────
// The record catalog lists every downloadable model artifact. It is the
// only source of truth for which direct language pairs exist.

// Attachment locates one compressed artifact on the attachment CDN.
type Attachment struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
	Location string `json:"location"`
	Mimetype string `json:"mimetype"`
}

// ModelRecord is one artifact of one language pair at one version.
type ModelRecord struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Schema           int64      `json:"schema"`
	Version          string     `json:"version"`
	FileType         string     `json:"fileType"`
	Attachment       Attachment `json:"attachment"`
	Architecture     string     `json:"architecture,omitempty"`
	SourceLanguage   string     `json:"sourceLanguage"`
	TargetLanguage   string     `json:"targetLanguage"`
	DecompressedHash string     `json:"decompressedHash,omitempty"`
	DecompressedSize int64      `json:"decompressedSize,omitempty"`
	FilterExpression string     `json:"filter_expression,omitempty"`
	LastModified     int64      `json:"last_modified"`
}

// Pair returns the record's language pair.
func (r ModelRecord) Pair() PairKey {
	return PairKey{From: r.SourceLanguage, To: r.TargetLanguage}
}

// RecordsDocument is the records.json envelope.
type RecordsDocument struct {
	Data []ModelRecord `json:"data"`
}

// FileTypeVocab is a vocabulary shared by source and target.
const FileTypeVocab = "vocab"

// InstalledFile is a verified artifact on local disk.
type InstalledFile struct {
	Path        string    `json:"path"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	FileType    string    `json:"file_type"`
	Version     string    `json:"version"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	InstalledAt time.Time `json:"installed_at"`
}
