package envelope

// KeyedSelector is the targetAppID that enables keyed-shape extraction.
const KeyedSelector = "cub3d.notify"

// Lookup keys used by the keyed rule.
const (
	KeyTitle = "title"
	KeyBody  = "body"
)

// Envelope is the decoded form of one inbound text frame.
// It is built fresh per frame and never shared across frames.
type Envelope struct {
	TargetAppID string
	Message     *Message
	DataPayload []Entry
}

// Message is the direct shape.
type Message struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Entry is one key/value pair of the keyed shape.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HasDataPayload reports whether the frame carried a dataPayload array
// (possibly empty).
func (e Envelope) HasDataPayload() bool { return e.DataPayload != nil }

// Lookup returns the value of the first entry whose key matches exactly.
// Later duplicates are ignored.
func (e Envelope) Lookup(key string) (string, bool) {
	for _, it := range e.DataPayload {
		if it.Key == key {
			return it.Value, true
		}
	}
	return "", false
}
