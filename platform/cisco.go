package platform

import "github.com/fehuapaya/scrapli/privilege"

const (
	CiscoIOSXEName = "cisco_iosxe"
	CiscoNXOSName  = "cisco_nxos"
	CiscoIOSXRName = "cisco_iosxr"
)

var ciscoFailedWhenContains = []string{
	"% Ambiguous command",
	"% Incomplete command",
	"% Invalid input detected",
	"% Unknown command",
}

// CiscoIOSXE IOS-XE 平台定义
func CiscoIOSXE() Definition {
	return Definition{
		Name: CiscoIOSXEName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "exec",
				Pattern: `^[a-z0-9.\-@()/:]{1,32}>$`,
			},
			{
				Name:           "privilege_exec",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}#$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "disable",
				EscalatePriv:   "exec",
				Escalate:       "enable",
				EscalateAuth:   true,
				EscalatePrompt: `^[pP]assword:\s?$`,
			},
			{
				Name:           "configuration",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}\(conf[a-z0-9.\-@/:\+]{0,32}\)#$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "end",
				EscalatePriv:   "privilege_exec",
				Escalate:       "configure terminal",
			},
			{
				Name:           "tclsh",
				Pattern:        `^([a-z0-9.\-@/:]{1,32}\(tcl\)#|\+>)$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "tclquit",
				EscalatePriv:   "privilege_exec",
				Escalate:       "tclsh",
			},
		},
		DefaultDesiredPriv: "privilege_exec",
		OnOpen:             []string{"terminal length 0", "terminal width 512"},
		OnClose:            []string{"exit"},
		FailedWhenContains: ciscoFailedWhenContains,
		TextFsmPlatform:    "cisco_ios",
	}
}

// CiscoNXOS NX-OS 平台定义
func CiscoNXOS() Definition {
	return Definition{
		Name: CiscoNXOSName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "exec",
				Pattern: `^[a-z0-9.\-@()/:]{1,32}>\s?$`,
			},
			{
				Name:           "privilege_exec",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}#\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "disable",
				EscalatePriv:   "exec",
				Escalate:       "enable",
				EscalateAuth:   true,
				EscalatePrompt: `^[pP]assword:\s?$`,
			},
			{
				Name:           "configuration",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}\(config[a-z0-9.\-@/:]{0,32}\)#\s?$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "end",
				EscalatePriv:   "privilege_exec",
				Escalate:       "configure terminal",
			},
			{
				Name:           "tclsh",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}-tcl#\s?$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "tclquit",
				EscalatePriv:   "privilege_exec",
				Escalate:       "tclsh",
			},
		},
		DefaultDesiredPriv: "privilege_exec",
		OnOpen:             []string{"terminal length 0", "terminal width 511"},
		OnClose:            []string{"exit"},
		FailedWhenContains: append([]string{"% Permission denied"}, ciscoFailedWhenContains...),
		TextFsmPlatform:    "cisco_nxos",
		// NX-OS truncates the session name in the prompt, so it is not embedded.
		Session: &SessionTemplate{
			Parent:     "privilege_exec",
			Pattern:    `^[a-z0-9.\-@/:]{1,32}\(config\-s[a-z0-9.\-@/:]{0,32}\)#\s?$`,
			Escalate:   "configure session " + SessionPlaceholder,
			Deescalate: "end",
		},
	}
}

// CiscoIOSXR IOS-XR 平台定义
func CiscoIOSXR() Definition {
	return Definition{
		Name: CiscoIOSXRName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "privilege_exec",
				Pattern: `^[a-z0-9.\-@/:]{1,32}#\s?$`,
			},
			{
				Name:           "configuration",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}\(config[a-z0-9.\-@/:]{0,32}\)#\s?$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "end",
				EscalatePriv:   "privilege_exec",
				Escalate:       "configure terminal",
			},
			{
				Name:           "configuration_exclusive",
				Pattern:        `^[a-z0-9.\-@/:]{1,32}\(config[a-z0-9.\-@/:]{0,32}\)#\s?$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "end",
				EscalatePriv:   "privilege_exec",
				Escalate:       "configure exclusive",
			},
		},
		DefaultDesiredPriv: "privilege_exec",
		OnOpen:             []string{"terminal length 0", "terminal width 512"},
		OnClose:            []string{"exit"},
		FailedWhenContains: append([]string{"% Failed"}, ciscoFailedWhenContains...),
		TextFsmPlatform:    "cisco_xr",
	}
}
