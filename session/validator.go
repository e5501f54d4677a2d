package session

import (
	"fmt"
	"peer-chat/domain"
	"peer-chat/domain/mimetypes"
	"peer-chat/errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type startRequest struct {
	Room     string `validate:"required,max=128"`
	Nickname string `validate:"required,max=64"`
}

func newStartRequest(room, nickname string) (startRequest, error) {
	req := startRequest{
		Room:     domain.NormalizeRoom(room),
		Nickname: strings.TrimSpace(nickname),
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	return req, nil
}

// draftFor checks a payload against its kind and fills in the media type.
func draftFor(kind domain.Kind, author string, payload []byte, maxPayload int) (domain.Draft, error) {
	draft := domain.Draft{Kind: kind, Author: author, Payload: payload}
	if len(payload) > maxPayload {
		return draft, fmt.Errorf("%w: payload of %d bytes exceeds %d", errors.ErrInvalidInput, len(payload), maxPayload)
	}

	switch kind {
	case domain.KindText, domain.KindSystem:
		if !utf8.Valid(payload) || strings.TrimSpace(string(payload)) == "" {
			return draft, fmt.Errorf("%w: text must be non-empty UTF-8", errors.ErrInvalidInput)
		}
		draft.MIME = string(mimetypes.TextPlain)
	case domain.KindImage:
		detected, ok := mimetypes.InFamily(payload, mimetypes.FamilyImage)
		if !ok {
			return draft, fmt.Errorf("%w: %s is not an image", errors.ErrUnsupportedMedia, detected)
		}
		draft.MIME = string(detected)
	case domain.KindAudio:
		detected, ok := mimetypes.InFamily(payload, mimetypes.FamilyAudio)
		if !ok {
			return draft, fmt.Errorf("%w: %s is not audio", errors.ErrUnsupportedMedia, detected)
		}
		draft.MIME = string(detected)
	case domain.KindReaction:
		return draft, fmt.Errorf("%w: reactions need a target, use React", errors.ErrInvalidInput)
	default:
		return draft, fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidInput, kind)
	}
	return draft, nil
}
