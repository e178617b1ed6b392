package sqlstore

import "github.com/goliatone/go-apps/core"

var (
	_ core.ConnectedAppStore = (*ConnectedAppStore)(nil)
	_ core.ConnectedAppStore = (*CachedConnectedAppStore)(nil)
	_ core.ReminderStore     = (*ReminderStore)(nil)
	_ core.Storage           = (*RepositoryFactory)(nil)
)
