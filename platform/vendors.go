package platform

import "github.com/fehuapaya/scrapli/privilege"

const (
	AristaEOSName    = "arista_eos"
	JuniperJunosName = "juniper_junos"
	HuaweiVRPName    = "huawei_vrp"
)

// AristaEOS EOS 平台定义
func AristaEOS() Definition {
	return Definition{
		Name: AristaEOSName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "exec",
				Pattern: `^[a-z0-9.\-@()/: ]{1,32}>\s?$`,
			},
			{
				Name:           "privilege_exec",
				Pattern:        `^[a-z0-9.\-@/: ]{1,32}#\s?$`,
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
				Pattern:        `^[a-z0-9.\-@/: ]{1,32}\(config[a-z0-9.\-@/:]{0,32}\)#\s?$`,
				PreviousPriv:   "privilege_exec",
				DeescalatePriv: "privilege_exec",
				Deescalate:     "end",
				EscalatePriv:   "privilege_exec",
				Escalate:       "configure terminal",
			},
		},
		DefaultDesiredPriv: "privilege_exec",
		OnOpen:             []string{"terminal length 0", "terminal width 32767"},
		OnClose:            []string{"exit"},
		FailedWhenContains: []string{
			"% Ambiguous command",
			"% Error",
			"% Incomplete command",
			"% Invalid input",
			"% Cannot commit",
			"% Unavailable command",
		},
		TextFsmPlatform: "arista_eos",
		AnsiStrip:       true,
		Session: &SessionTemplate{
			Parent:     "privilege_exec",
			Pattern:    `^[a-z0-9.\-@/:]{1,32}\(config\-s\-` + SessionPlaceholder + `[a-z0-9_.\-@/:]{0,32}\)#\s?$`,
			NameLength: 6,
			Escalate:   "configure session " + SessionPlaceholder,
			Deescalate: "end",
		},
	}
}

// JuniperJunos Junos 平台定义
func JuniperJunos() Definition {
	return Definition{
		Name: JuniperJunosName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "exec",
				Pattern: `^[a-z0-9.\-@()/: ]{1,32}>\s?$`,
			},
			{
				Name:           "configuration",
				Pattern:        `^[a-z0-9.\-@()/: ]{1,32}#\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "exit configuration-mode",
				EscalatePriv:   "exec",
				Escalate:       "configure",
			},
			{
				Name:           "configuration_exclusive",
				Pattern:        `^[a-z0-9.\-@()/: ]{1,32}#\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "exit configuration-mode",
				EscalatePriv:   "exec",
				Escalate:       "configure exclusive",
			},
			{
				Name:           "configuration_private",
				Pattern:        `^[a-z0-9.\-@()/: ]{1,32}#\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "exit configuration-mode",
				EscalatePriv:   "exec",
				Escalate:       "configure private",
			},
			{
				Name:           "shell",
				Pattern:        `^.*[%$]\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "exit",
				EscalatePriv:   "exec",
				Escalate:       "start shell",
			},
		},
		DefaultDesiredPriv: "exec",
		OnOpen: []string{
			"set cli screen-length 0",
			"set cli screen-width 511",
			"set cli complete-on-space off",
		},
		OnClose: []string{"exit"},
		FailedWhenContains: []string{
			"is ambiguous",
			"No valid completions",
			"unknown command",
			"syntax error",
		},
		TextFsmPlatform: "juniper_junos",
	}
}

// HuaweiVRP VRP 平台定义
func HuaweiVRP() Definition {
	return Definition{
		Name: HuaweiVRPName,
		PrivilegeLevels: []privilege.Level{
			{
				Name:    "exec",
				Pattern: `^<[a-z0-9.\-_@()/:]{1,48}>\s?$`,
			},
			{
				Name:           "configuration",
				Pattern:        `^\[[~*]?[a-z0-9.\-_@()/:]{1,48}\]\s?$`,
				PreviousPriv:   "exec",
				DeescalatePriv: "exec",
				Deescalate:     "return",
				EscalatePriv:   "exec",
				Escalate:       "system-view",
			},
		},
		DefaultDesiredPriv: "exec",
		OnOpen:             []string{"screen-length 0 temporary"},
		OnClose:            []string{"quit"},
		FailedWhenContains: []string{
			"Error: ",
			"Unrecognized command",
			"Incomplete command",
			"Too many parameters",
		},
		TextFsmPlatform: "huawei_vrp",
	}
}
