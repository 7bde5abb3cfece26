package call

import (
	"errors"
	"strings"

	"github.com/pion/sdp/v3"
)

var errNoMedia = errors.New("sdp has no media sections")

// describeSDP summarises a session description for logging: the media
// sections in order, e.g. "audio,video". Unparsable text and descriptions
// without media yield an error.
func describeSDP(text string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(text)); err != nil {
		return "", err
	}
	if len(desc.MediaDescriptions) == 0 {
		return "", errNoMedia
	}
	kinds := make([]string, 0, len(desc.MediaDescriptions))
	for _, m := range desc.MediaDescriptions {
		kinds = append(kinds, m.MediaName.Media)
	}
	return strings.Join(kinds, ","), nil
}
