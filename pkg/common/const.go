package common

const (
	KEY_ZONE_LOCATION = "zone_location:%s"
)

const (
	KEY_LOG_HOOK_SEND_ALERT = "send_alert"
)
