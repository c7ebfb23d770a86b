package transcode

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/castroom/backend/internal/session"
)

// ErrUnsupportedMedia is returned for inputs that are neither video nor image.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// ErrInputNotAllowed is returned for inputs that do not map to stored media.
var ErrInputNotAllowed = errors.New("media source not allowed")

var mediaExtensions = map[string]session.MediaType{
	".mp4":  session.MediaVideo,
	".mov":  session.MediaVideo,
	".webm": session.MediaVideo,
	".jpg":  session.MediaImage,
	".jpeg": session.MediaImage,
	".png":  session.MediaImage,
	".gif":  session.MediaImage,
}

// MediaTypeOf resolves the media type from the extension of a file path or URL.
// Query strings (e.g. presigned URLs) are ignored.
func MediaTypeOf(p string) (session.MediaType, error) {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))
	if t, ok := mediaExtensions[ext]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, ext)
}

// ContentTypeFor returns the MIME type served for a media file name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".mov":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	}
	return "application/octet-stream"
}
