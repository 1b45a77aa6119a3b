package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// Payload construction helpers. Multi-argument payloads separate their
// arguments with a single NUL byte; the last argument may itself contain NULs.

// echoProbe is the payload sent by the built-in liveness check
const echoProbe = "hello"

const argSep = 0

// EchoProbe returns a fresh copy of the liveness check payload
func EchoProbe() []byte {
	return []byte(echoProbe)
}

// IsEchoProbe reports whether payload is the liveness check payload
func IsEchoProbe(payload []byte) bool {
	return string(payload) == echoProbe
}

// JoinArgs concatenates args with NUL separators
func JoinArgs(args ...[]byte) []byte {
	if len(args) == 0 {
		return nil
	}
	size := len(args) - 1
	for _, a := range args {
		size += len(a)
	}
	buf := make([]byte, 0, size)
	for i, a := range args {
		if i > 0 {
			buf = append(buf, argSep)
		}
		buf = append(buf, a...)
	}
	return buf
}

// SplitArgs splits payload into at most n arguments. With n <= 0 every NUL is
// a separator. Slices alias payload.
func SplitArgs(payload []byte, n int) [][]byte {
	if n <= 0 {
		n = -1
	}
	return bytes.SplitN(payload, []byte{argSep}, n)
}

// BuildSubmitJob builds the payload shared by every SUBMIT_JOB variant:
//
//	function NUL unique NUL data
func BuildSubmitJob(function, unique string, data []byte) ([]byte, error) {
	if function == "" {
		return nil, fmt.Errorf("function name is required")
	}
	if bytes.IndexByte([]byte(function), argSep) >= 0 || bytes.IndexByte([]byte(unique), argSep) >= 0 {
		return nil, fmt.Errorf("function and unique id must not contain NUL")
	}
	return JoinArgs([]byte(function), []byte(unique), data), nil
}

// BuildWorkStatus builds a WORK_STATUS payload:
//
//	handle NUL numerator NUL denominator
func BuildWorkStatus(handle string, numerator, denominator uint64) []byte {
	return JoinArgs(
		[]byte(handle),
		strconv.AppendUint(nil, numerator, 10),
		strconv.AppendUint(nil, denominator, 10),
	)
}

// BuildWorkResult builds the payload of WORK_COMPLETE, WORK_DATA,
// WORK_WARNING and WORK_EXCEPTION:
//
//	handle NUL data
func BuildWorkResult(handle string, data []byte) []byte {
	return JoinArgs([]byte(handle), data)
}

// BuildCanDoTimeout builds a CAN_DO_TIMEOUT payload:
//
//	function NUL timeout-seconds
func BuildCanDoTimeout(function string, seconds uint32) []byte {
	return JoinArgs([]byte(function), strconv.AppendUint(nil, uint64(seconds), 10))
}
