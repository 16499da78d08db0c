package evtx

import "regexp"

// Channel identifies the log file an event was read from.
type Channel string

const (
	ChannelSecurity              Channel = "security"
	ChannelSystem                Channel = "system"
	ChannelTaskScheduler         Channel = "task_scheduler"
	ChannelRDPRemote             Channel = "rdp_remote"
	ChannelRDPLocal              Channel = "rdp_local"
	ChannelBITS                  Channel = "bits"
	ChannelPowerShellOperational Channel = "powershell_operational"
	ChannelWindowsPowerShell     Channel = "windows_powershell"
	ChannelWMI                   Channel = "wmi"
	ChannelDefender              Channel = "windefender"
)

type channelRule struct {
	pattern *regexp.Regexp
	channel Channel
}

var channelRules = []channelRule{
	{regexp.MustCompile(`(?i)Security\.evtx`), ChannelSecurity},
	{regexp.MustCompile(`(?i)System\.evtx`), ChannelSystem},
	{regexp.MustCompile(`(?i)Microsoft-Windows-TaskScheduler.*Operational\.evtx`), ChannelTaskScheduler},
	{regexp.MustCompile(`(?i)Microsoft-Windows-TerminalServices-RemoteConnectionManager.*Operational\.evtx`), ChannelRDPRemote},
	{regexp.MustCompile(`(?i)Microsoft-Windows-TerminalServices-LocalSessionManager.*Operational\.evtx`), ChannelRDPLocal},
	{regexp.MustCompile(`(?i)Microsoft-Windows-Bits-Client.*Operational\.evtx`), ChannelBITS},
	{regexp.MustCompile(`(?i)Microsoft-Windows-PowerShell.*Operational\.evtx`), ChannelPowerShellOperational},
	{regexp.MustCompile(`(?i)Windows PowerShell\.evtx`), ChannelWindowsPowerShell},
	{regexp.MustCompile(`(?i)Microsoft-Windows-WMI-Activity.*Operational\.evtx`), ChannelWMI},
	{regexp.MustCompile(`(?i)Microsoft-Windows-Windows Defender.*Operational\.evtx`), ChannelDefender},
}

// ChannelFor classifies the originating log file by name. The boolean is
// false when no channel matches.
func ChannelFor(filename string) (Channel, bool) {
	if filename == "" {
		return "", false
	}
	for _, rule := range channelRules {
		if rule.pattern.MatchString(filename) {
			return rule.channel, true
		}
	}
	return "", false
}
