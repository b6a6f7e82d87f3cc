package discord

// ChannelFilter limits the bot to a set of channels.
type ChannelFilter struct {
	allowed map[string]struct{}
}

// NewChannelFilter creates a filter for the given channel IDs. An empty list
// allows every channel (useful for development).
func NewChannelFilter(channelIDs []string) *ChannelFilter {
	f := &ChannelFilter{allowed: make(map[string]struct{}, len(channelIDs))}
	for _, id := range channelIDs {
		if id != "" {
			f.allowed[id] = struct{}{}
		}
	}
	return f
}

// Allows reports whether messages in channelID should be handled. A nil
// filter allows everything.
func (f *ChannelFilter) Allows(channelID string) bool {
	if f == nil || len(f.allowed) == 0 {
		return true
	}
	_, ok := f.allowed[channelID]
	return ok
}
