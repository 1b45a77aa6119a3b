package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the 32-bit command code carried in every header
type Command uint32

// Command codes understood by job servers
const (
	CanDo           Command = 1  // worker -> server: function name
	CantDo          Command = 2  // worker -> server: function name
	ResetAbilities  Command = 3  // worker -> server
	PreSleep        Command = 4  // worker -> server, woken by NOOP
	Noop            Command = 6  // server -> worker
	SubmitJob       Command = 7  // client -> server: function, unique, data
	JobCreated      Command = 8  // server -> client: handle
	GrabJob         Command = 9  // worker -> server
	NoJob           Command = 10 // server -> worker
	JobAssign       Command = 11 // server -> worker: handle, function, data
	WorkStatus      Command = 12 // both: handle, numerator, denominator
	WorkComplete    Command = 13 // both: handle, data
	WorkFail        Command = 14 // both: handle
	GetStatus       Command = 15 // client -> server: handle
	EchoReq         Command = 16 // both: opaque data
	EchoRes         Command = 17 // both: opaque data
	SubmitJobBG     Command = 18
	Error           Command = 19 // server -> any: code, text
	StatusRes       Command = 20 // server -> client: handle, known, running, numerator, denominator
	SubmitJobHigh   Command = 21
	SetClientID     Command = 22
	CanDoTimeout    Command = 23 // worker -> server: function name, timeout
	AllYours        Command = 24
	WorkException   Command = 25 // both: handle, data
	OptionReq       Command = 26
	OptionRes       Command = 27
	WorkData        Command = 28 // both: handle, data
	WorkWarning     Command = 29 // both: handle, data
	GrabJobUniq     Command = 30
	JobAssignUniq   Command = 31 // server -> worker: handle, function, unique, data
	SubmitJobHighBG Command = 32
	SubmitJobLow    Command = 33
	SubmitJobLowBG  Command = 34
	SubmitJobSched  Command = 35
	SubmitJobEpoch  Command = 36
)

var commandNames = map[Command]string{
	CanDo:           "CAN_DO",
	CantDo:          "CANT_DO",
	ResetAbilities:  "RESET_ABILITIES",
	PreSleep:        "PRE_SLEEP",
	Noop:            "NOOP",
	SubmitJob:       "SUBMIT_JOB",
	JobCreated:      "JOB_CREATED",
	GrabJob:         "GRAB_JOB",
	NoJob:           "NO_JOB",
	JobAssign:       "JOB_ASSIGN",
	WorkStatus:      "WORK_STATUS",
	WorkComplete:    "WORK_COMPLETE",
	WorkFail:        "WORK_FAIL",
	GetStatus:       "GET_STATUS",
	EchoReq:         "ECHO_REQ",
	EchoRes:         "ECHO_RES",
	SubmitJobBG:     "SUBMIT_JOB_BG",
	Error:           "ERROR",
	StatusRes:       "STATUS_RES",
	SubmitJobHigh:   "SUBMIT_JOB_HIGH",
	SetClientID:     "SET_CLIENT_ID",
	CanDoTimeout:    "CAN_DO_TIMEOUT",
	AllYours:        "ALL_YOURS",
	WorkException:   "WORK_EXCEPTION",
	OptionReq:       "OPTION_REQ",
	OptionRes:       "OPTION_RES",
	WorkData:        "WORK_DATA",
	WorkWarning:     "WORK_WARNING",
	GrabJobUniq:     "GRAB_JOB_UNIQ",
	JobAssignUniq:   "JOB_ASSIGN_UNIQ",
	SubmitJobHighBG: "SUBMIT_JOB_HIGH_BG",
	SubmitJobLow:    "SUBMIT_JOB_LOW",
	SubmitJobLowBG:  "SUBMIT_JOB_LOW_BG",
	SubmitJobSched:  "SUBMIT_JOB_SCHED",
	SubmitJobEpoch:  "SUBMIT_JOB_EPOCH",
}

// String returns the protocol name of the command, or its number when unknown
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("COMMAND(%d)", uint32(c))
}

// Known reports whether c is part of the command table
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommand resolves a command from its protocol name ("WORK_COMPLETE",
// case-insensitive) or its decimal code ("13").
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty command name")
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Command(n), nil
	}
	upper := strings.ToUpper(s)
	for cmd, name := range commandNames {
		if name == upper {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}
