// Package reply decides the outbound message shape for the agent's final
// text: an image message when the text references a published asset, or
// a plain text message otherwise.
package reply

import "regexp"

// Message is the outbound reply in one of two shapes. Exactly one shape
// is populated: Text, or ImageURL/PreviewURL.
type Message struct {
	Text       string
	ImageURL   string
	PreviewURL string
}

// IsImage reports whether the message carries an asset instead of text.
func (m Message) IsImage() bool { return m.ImageURL != "" }

// Router scans final text for published asset URLs.
type Router struct {
	pattern *regexp.Regexp
}

// NewRouter builds a router recognizing assets under imageBase, matching
// {imageBase}/<any characters>.png non-greedily.
func NewRouter(imageBase string) *Router {
	return &Router{
		pattern: regexp.MustCompile(regexp.QuoteMeta(imageBase) + `/.+?\.png`),
	}
}

// Route selects the outbound shape. The first asset URL wins and the
// surrounding text is discarded — only one asset is ever sent per turn.
// Text replies are flattened from markdown to the plain text LINE renders.
func (r *Router) Route(finalText string) Message {
	if url := r.pattern.FindString(finalText); url != "" {
		return Message{ImageURL: url, PreviewURL: url}
	}
	return Message{Text: Flatten(finalText)}
}
