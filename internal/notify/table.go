package notify

import "fmt"

// Kind enumerates every prompt the device can speak.
type Kind int

const (
	NotBind Kind = iota
	WifiConnect
	WifiFailed
	WifiStaAuthFailed
	WifiAPNotFound
	WifiServerError

	OTAStart
	OTASuccess
	OTAFailed

	Close
	LowBattery

	ChatVADEnd
	ChatFailed
	ChatWakeup
	ChatWakeupVC
	ChatWakeupVC2

	Startup
	ConnectSuccess
	ChatExit

	MatchBatteryQuery
	MatchFullyCharged
	MatchVolumeSet

	ChatNotUnderstood

	kindCount
)

var kindNames = [kindCount]string{
	NotBind:           "not_bind",
	WifiConnect:       "wifi_connect",
	WifiFailed:        "wifi_failed",
	WifiStaAuthFailed: "wifi_sta_auth_failed",
	WifiAPNotFound:    "wifi_ap_not_found",
	WifiServerError:   "wifi_server_error",
	OTAStart:          "ota_start",
	OTASuccess:        "ota_success",
	OTAFailed:         "ota_failed",
	Close:             "close",
	LowBattery:        "low_battery",
	ChatVADEnd:        "chat_vad_end",
	ChatFailed:        "chat_failed",
	ChatWakeup:        "chat_wakeup",
	ChatWakeupVC:      "chat_wakeup_vc",
	ChatWakeupVC2:     "chat_wakeup_vc2",
	Startup:           "startup",
	ConnectSuccess:    "connect_success",
	ChatExit:          "chat_exit",
	MatchBatteryQuery: "match_battery_query",
	MatchFullyCharged: "match_fully_charged",
	MatchVolumeSet:    "match_volume_set",
	ChatNotUnderstood: "chat_not_understood",
}

func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind by its snake_case name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown notification %q", name)
}

// Policy selects where an entry's audio comes from before it is cached.
type Policy int

const (
	// PolicyDisabled plays a canned file shipped with the device and never syncs.
	PolicyDisabled Policy = iota
	// PolicyFromNetwork asks the cloud to synthesize the text on demand.
	PolicyFromNetwork
	// PolicyFromFile plays a locally found file with the entry's prefix.
	PolicyFromFile
)

func (p Policy) String() string {
	switch p {
	case PolicyDisabled:
		return "disabled"
	case PolicyFromNetwork:
		return "from_network"
	case PolicyFromFile:
		return "from_file"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Entry is one row of the notification table.
type Entry struct {
	Kind    Kind
	Path    string
	Text    string
	Enabled bool
	Policy  Policy
}

// DefaultTable returns the built-in notification entries.
func DefaultTable() []Entry {
	return []Entry{
		{Kind: NotBind, Path: "device_not_bind", Enabled: true, Policy: PolicyDisabled, Text: "设备未绑定，请使用小程序进行绑定"},
		{Kind: WifiConnect, Path: "wifi_connect", Enabled: true, Policy: PolicyDisabled, Text: "太棒了,WiFi 连接成功"},
		{Kind: WifiFailed, Path: "wifi_failed", Enabled: true, Policy: PolicyDisabled, Text: "WiFi 连接失败，换个试试"},
		{Kind: WifiStaAuthFailed, Path: "wifi_sta_auth_failed", Enabled: true, Policy: PolicyDisabled, Text: "WiFi 密码好像不对，再试试呢"},
		{Kind: WifiAPNotFound, Path: "wifi_ap_not_found", Enabled: true, Policy: PolicyFromFile, Text: "未找到您要连接的WiFi"},
		{Kind: WifiServerError, Path: "wifi_server_error", Enabled: true, Policy: PolicyFromFile, Text: "服务器连接失败，建议您检查下网络哦"},
		{Kind: OTAStart, Path: "ota_start", Enabled: true, Policy: PolicyDisabled, Text: "OTA升级开始, 我们等会聊天吧"},
		{Kind: OTASuccess, Path: "ota_success", Enabled: true, Policy: PolicyDisabled, Text: "太好了，升级完成"},
		{Kind: OTAFailed, Path: "ota_failed", Enabled: true, Policy: PolicyDisabled, Text: "升级遇到了一些问题，建议您重启设备后重试"},
		{Kind: Close, Path: "close", Enabled: false, Policy: PolicyDisabled, Text: "即将关机"},
		{Kind: LowBattery, Path: "low_battery", Enabled: false, Policy: PolicyDisabled, Text: "电量低，请及时充电"},
		{Kind: ChatFailed, Path: "chat_failed", Enabled: true, Policy: PolicyDisabled, Text: "网络有点不太稳定呢"},
		{Kind: ChatWakeup, Path: "wakeup", Enabled: true, Policy: PolicyFromNetwork, Text: "你好呀"},
		{Kind: ChatWakeupVC, Path: "wakeup1", Enabled: true, Policy: PolicyFromNetwork, Text: "在呢"},
		{Kind: ChatWakeupVC2, Path: "wakeup2", Enabled: true, Policy: PolicyFromNetwork, Text: "怎么呢"},
		{Kind: ConnectSuccess, Path: "connect_success", Enabled: true, Policy: PolicyFromNetwork, Text: "网络连接成功, 快来和我聊天吧"},
		{Kind: ChatExit, Path: "chat_exit", Enabled: true, Policy: PolicyFromNetwork, Text: "和你聊天很开心, 下次见"},
		{Kind: ChatVADEnd, Path: "vad_end", Enabled: false, Policy: PolicyDisabled, Text: "收音结束"},
		{Kind: Startup, Path: "open_start", Enabled: true, Policy: PolicyFromFile, Text: "我是小明,很高兴认识你"},
	}
}
