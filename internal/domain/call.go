package domain

// MediaKind is the media mix of a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

func (k MediaKind) HasVideo() bool { return k == MediaVideo }
