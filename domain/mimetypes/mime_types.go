package mimetypes

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type MIME string

const (
	Unknown   MIME = "unknown"
	TextPlain MIME = "text/plain"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
	ImageWEBP MIME = "image/webp"

	AudioWEBM MIME = "audio/webm"
	AudioOGG  MIME = "audio/ogg"
	AudioMPEG MIME = "audio/mpeg"
	AudioWAV  MIME = "audio/wav"
	VideoWEBM MIME = "video/webm"
)

// Family is the top level type: "image", "audio", ...
type Family string

const (
	FamilyImage Family = "image"
	FamilyAudio Family = "audio"
)

// Matches tells whether a detected media type, parameters included, equals expected.
func Matches(detected string, expected MIME) (MIME, bool) {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown, false
	}
	return expected, mt == string(expected)
}

// Detect sniffs the payload content, ignoring whatever the sender claims.
func Detect(payload []byte) MIME {
	if len(payload) == 0 {
		return Unknown
	}
	detected := mimetype.Detect(payload)
	mt, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return Unknown
	}
	return MIME(mt)
}

// InFamily reports whether the payload belongs to the family.
// Voice notes recorded as WebM are sniffed as video/webm and still count as audio.
func InFamily(payload []byte, family Family) (MIME, bool) {
	detected := Detect(payload)
	if detected == Unknown {
		return Unknown, false
	}
	if strings.HasPrefix(string(detected), string(family)+"/") {
		return detected, true
	}
	if family == FamilyAudio && (detected == VideoWEBM || detected == "application/ogg") {
		return detected, true
	}
	return detected, false
}
