package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InstallAppMessage]     = (*InstallAppCommand)(nil)
	_ gocmd.Commander[UpdateAppMessage]      = (*UpdateAppCommand)(nil)
	_ gocmd.Commander[UninstallAppMessage]   = (*UninstallAppCommand)(nil)
	_ gocmd.Commander[ProcessRequestMessage] = (*ProcessRequestCommand)(nil)
	_ gocmd.Commander[RespondMessage]        = (*RespondCommand)(nil)
	_ gocmd.Commander[RunScheduledMessage]   = (*RunScheduledCommand)(nil)
)
