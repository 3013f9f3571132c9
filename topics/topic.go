package topics

const prefix = "workmate"

var (
	MeetingStatus = New(prefix, "meeting.status")
	LiveSession   = New(prefix, "live.session")
)

type Topic struct {
	prefix string
	name   string
}

func New(prefix, name string) Topic {
	return Topic{
		prefix: prefix,
		name:   name,
	}
}

func (t Topic) FullName() string {
	if t.prefix == "" {
		return t.name
	}
	return t.prefix + "." + t.name
}

// For scopes the topic to a single key, e.g. one meeting.
func (t Topic) For(key string) string {
	return t.FullName() + "." + key
}
