package protocol

import (
	"sort"
	"strings"
)

// EventKind is the closed set of unsolicited result codes the module emits.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventStartup
	EventGeneral
	EventWlan
	EventSocket
	EventNetApp
	EventMqtt
	EventFatalError
	EventCustom
)

var eventTokens = map[EventKind]string{
	EventStartup:    "eventstartup",
	EventGeneral:    "eventgeneral",
	EventWlan:       "eventwlan",
	EventSocket:     "eventsocket",
	EventNetApp:     "eventnetapp",
	EventMqtt:       "eventmqtt",
	EventFatalError: "eventfatalerror",
	EventCustom:     "eventcustom",
}

// EventKinds lists every known kind in declaration order.
func EventKinds() []EventKind {
	return []EventKind{
		EventStartup, EventGeneral, EventWlan, EventSocket,
		EventNetApp, EventMqtt, EventFatalError, EventCustom,
	}
}

// Token is the wire keyword of the event, without the response marker.
func (k EventKind) Token() string {
	return eventTokens[k]
}

func (k EventKind) String() string {
	if t, ok := eventTokens[k]; ok {
		return strings.TrimPrefix(t, "event")
	}
	return "unknown"
}

// ParseEventKind accepts either the wire token or the short name.
func ParseEventKind(s string) (EventKind, bool) {
	for kind, token := range eventTokens {
		if s == token || s == kind.String() {
			return kind, true
		}
	}
	return EventUnknown, false
}

// Event is a classified unsolicited line.
type Event struct {
	Kind EventKind
	Args []string
	Raw  string
}

// Arg returns the i-th argument, or an empty string.
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

type classifierEntry struct {
	prefix string
	kind   EventKind
}

// classifier is ordered by descending prefix length so the most specific
// prefix wins.
var classifier = func() []classifierEntry {
	entries := make([]classifierEntry, 0, len(eventTokens))
	for kind, token := range eventTokens {
		entries = append(entries, classifierEntry{prefix: token, kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].prefix) != len(entries[j].prefix) {
			return len(entries[i].prefix) > len(entries[j].prefix)
		}
		return entries[i].prefix < entries[j].prefix
	})
	return entries
}()

// ClassifyEvent matches a line against the event table. Matching is case
// sensitive and anchored right after the response marker. A prefix only
// matches when followed by the end of line, the delimiter or a separator.
func ClassifyEvent(raw string) (Event, bool) {
	if !strings.HasPrefix(raw, ResponseMarker) {
		return Event{}, false
	}
	rest := raw[len(ResponseMarker):]

	for _, entry := range classifier {
		if !strings.HasPrefix(rest, entry.prefix) {
			continue
		}

		tail := rest[len(entry.prefix):]
		if tail != "" && tail[0] != Delimiter && tail[0] != Separator {
			continue
		}

		ev := Event{Kind: entry.kind, Raw: raw}
		if tail != "" {
			fields, err := DefaultCodec.splitFields(tail[1:])
			if err != nil {
				// keep the raw arguments rather than dropping the event
				ev.Args = strings.Split(tail[1:], string(Separator))
				return ev, true
			}
			for _, f := range fields {
				ev.Args = append(ev.Args, f.text)
			}
		}
		return ev, true
	}

	return Event{}, false
}

// FormatEvent renders an event line without its terminator. Arguments are
// written verbatim.
func FormatEvent(kind EventKind, args ...string) string {
	line := ResponseMarker + kind.Token()
	if len(args) > 0 {
		line += string(Delimiter) + strings.Join(args, string(Separator))
	}
	return line
}
