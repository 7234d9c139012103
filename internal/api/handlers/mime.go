package handlers

import (
	"path/filepath"
	"strings"
)

// Extension to MIME type mapping for server-side path ingestion
var extToMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".wma":  "audio/x-ms-wma",
}

// Allowed MIME types for upload validation
var allowedAudioTypes = map[string]bool{
	"audio/mpeg":   true,
	"audio/mp3":    true,
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/flac":   true,
	"audio/x-flac": true,
	"audio/mp4":    true,
	"audio/m4a":    true,
	"audio/x-m4a":  true,
	"audio/ogg":    true,
	"audio/webm":   true,
	"audio/aac":    true,
	"video/mp4":    true,
}

// Allowed file extensions
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".webm": true,
	".aac":  true,
	".mp4":  true,
	".wma":  true,
}

func inferContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mime, ok := extToMIME[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// acceptableUpload validates an upload by extension, falling back to the
// declared content type when the extension is unknown
func acceptableUpload(filename, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if allowedExtensions[ext] {
		return true
	}
	// Strip any parameters, e.g. "audio/wav; codecs=1"
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return allowedAudioTypes[strings.TrimSpace(strings.ToLower(contentType))]
}
