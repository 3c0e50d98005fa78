// Package xsoverlay speaks the XSOverlay notification protocol: one JSON
// object per UDP datagram.
package xsoverlay

// Popup defaults used for every desktop notification.
const (
	TypePopup     = 1
	DefaultHeight = 175
	DefaultVolume = 0.7
	DefaultAudio  = "default"
	// DefaultIcon asks XSOverlay to render its built-in icon.
	DefaultIcon = "default"
)

// Message is the wire object. Field names are part of the protocol.
type Message struct {
	// MessageType 1 is a notification popup, 2 is media player information.
	MessageType int `json:"messageType"`
	// Index is only used for media player messages.
	Index int `json:"index"`
	// Timeout is the on-screen time in seconds.
	Timeout float64 `json:"timeout"`
	Height  float64 `json:"height"`
	// Opacity of 0 is treated as 1 by XSOverlay.
	Opacity float64 `json:"opacity"`
	Volume  float64 `json:"volume"`
	// AudioPath is an .ogg path or "default", "error", "warning". Empty is silent.
	AudioPath string `json:"audioPath"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	// UseBase64Icon tells XSOverlay that Icon holds base64 image data
	// rather than a path or keyword.
	UseBase64Icon bool   `json:"useBase64Icon"`
	Icon          string `json:"icon"`
	SourceApp     string `json:"sourceApp"`
}

// NewPopup returns a popup with the fixed presentation defaults.
func NewPopup(timeout float64) Message {
	return Message{
		MessageType: TypePopup,
		Index:       0,
		Timeout:     timeout,
		Height:      DefaultHeight,
		Opacity:     1,
		Volume:      DefaultVolume,
		AudioPath:   DefaultAudio,
		Icon:        DefaultIcon,
	}
}
