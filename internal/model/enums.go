package model

// DeviceStatus is the playback state a device last reported about itself.
type DeviceStatus string

const (
	DeviceStatusOffline    DeviceStatus = "offline"
	DeviceStatusOnline     DeviceStatus = "online"
	DeviceStatusPlaying    DeviceStatus = "playing"
	DeviceStatusPaused     DeviceStatus = "paused"
	DeviceStatusStopped    DeviceStatus = "stopped"
	DeviceStatusRestarting DeviceStatus = "restarting"
)

var deviceStatuses = map[DeviceStatus]bool{
	DeviceStatusOffline:    true,
	DeviceStatusOnline:     true,
	DeviceStatusPlaying:    true,
	DeviceStatusPaused:     true,
	DeviceStatusStopped:    true,
	DeviceStatusRestarting: true,
}

func (s DeviceStatus) Valid() bool {
	return deviceStatuses[s]
}

// PlaylistStatus is the state the account last commanded for the assigned playlist.
type PlaylistStatus string

const (
	PlaylistStatusNone     PlaylistStatus = "none"
	PlaylistStatusAssigned PlaylistStatus = "assigned"
	PlaylistStatusPlaying  PlaylistStatus = "playing"
	PlaylistStatusPaused   PlaylistStatus = "paused"
	PlaylistStatusStopped  PlaylistStatus = "stopped"
)

type ControlAction string

const (
	ControlActionPlay    ControlAction = "play"
	ControlActionPause   ControlAction = "pause"
	ControlActionStop    ControlAction = "stop"
	ControlActionRestart ControlAction = "restart"
)

var controlTargets = map[ControlAction]PlaylistStatus{
	ControlActionPlay:    PlaylistStatusPlaying,
	ControlActionPause:   PlaylistStatusPaused,
	ControlActionStop:    PlaylistStatusStopped,
	ControlActionRestart: PlaylistStatusPlaying,
}

func (a ControlAction) Valid() bool {
	_, ok := controlTargets[a]
	return ok
}

// TargetStatus returns the playlist status an accepted action moves the device to.
func (a ControlAction) TargetStatus() PlaylistStatus {
	return controlTargets[a]
}

// RequiresPlaylist reports whether the action needs an assigned playlist.
func (a ControlAction) RequiresPlaylist() bool {
	return a == ControlActionPlay || a == ControlActionRestart
}
