package media

import (
	"fmt"
	"strings"
)

// Slot is a named media attachment of a post.
type Slot string

const (
	SlotImage    Slot = "image"
	SlotVideo    Slot = "video"
	SlotAudio    Slot = "audio"
	SlotDocument Slot = "document"
)

var AllSlots = []Slot{SlotImage, SlotVideo, SlotAudio, SlotDocument}

func ParseSlot(s string) (Slot, error) {
	switch slot := Slot(strings.ToLower(strings.TrimSpace(s))); slot {
	case SlotImage, SlotVideo, SlotAudio, SlotDocument:
		return slot, nil
	case "documents", "pdf":
		return SlotDocument, nil
	default:
		return "", fmt.Errorf("unknown media slot: %q", s)
	}
}

// Folder is the remote folder uploads of this slot are grouped in.
func (s Slot) Folder() string {
	switch s {
	case SlotImage:
		return "blog_images"
	case SlotVideo:
		return "blog_videos"
	case SlotAudio:
		return "blog_audio"
	default:
		return "blog_documents"
	}
}

// ResourceType is the media host resource type. Audio is stored as a video resource.
func (s Slot) ResourceType() string {
	switch s {
	case SlotImage:
		return "image"
	case SlotVideo, SlotAudio:
		return "video"
	default:
		return "raw"
	}
}

func (s Slot) String() string {
	return string(s)
}
