// Package cmdparse extracts the first key of an already-serialized RESP
// command, the way spec.md's "command inspector" component does: it never
// builds wire bytes, only reads them.
package cmdparse

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag classifies the outcome of Inspect.
type Tag int

const (
	OK Tag = iota
	ProtocolError
)

// Result is the outcome of inspecting one serialized command.
type Result struct {
	Tag     Tag
	Err     string // set when Tag == ProtocolError
	HasKey  bool
	KeyPos  int // not set by Inspect; always 0
	Key     []byte
	Command string // uppercased command name
}

// arg is a parsed bulk-string argument: its bytes only.
type arg struct {
	data []byte
}

// Inspect parses raw as a RESP multibulk command (leading '*', N bulk
// strings) and returns the first key, if the command takes one.
func Inspect(raw []byte) Result {
	args, err := splitMultibulk(raw)
	if err != "" {
		return Result{Tag: ProtocolError, Err: err}
	}
	if len(args) == 0 {
		return Result{Tag: ProtocolError, Err: "empty command"}
	}

	name := strings.ToUpper(string(args[0].data))
	var sub string
	if len(args) > 1 {
		sub = strings.ToUpper(string(args[1].data))
	}
	_ = sub // subcommands are not modeled in the representative table

	def := lookupOrDefault(name)
	if !arityOK(def.arity, len(args)) {
		return Result{Tag: ProtocolError, Err: fmt.Sprintf("wrong number of arguments for %s", name)}
	}

	// MIGRATE with an empty argv[3] carries its key set via a trailing
	// KEYS keyword, which this inspector does not support.
	if name == "MIGRATE" {
		if len(args) < 4 || len(args[3].data) == 0 {
			return Result{Tag: ProtocolError, Err: "Command parse error: MIGRATE with KEYS is unsupported", Command: name}
		}
	}

	switch def.method {
	case keyNone:
		return Result{Tag: OK, Command: name}
	case keyUnknown:
		key, ferr := findUnknownKey(name, args, def.firstKeyPos)
		if ferr != "" {
			return Result{Tag: ProtocolError, Err: ferr, Command: name}
		}
		return Result{Tag: OK, Command: name, HasKey: true, Key: key}
	case keyIndex:
		if def.firstKeyPos >= len(args) {
			return Result{Tag: ProtocolError, Err: fmt.Sprintf("Failed to find keys of command %s", name), Command: name}
		}
		return Result{Tag: OK, Command: name, HasKey: true, Key: args[def.firstKeyPos].data}
	case keyNum:
		if def.firstKeyPos >= len(args) {
			return Result{Tag: ProtocolError, Err: fmt.Sprintf("Failed to find keys of command %s", name), Command: name}
		}
		countStr := string(args[def.firstKeyPos].data)
		n, convErr := strconv.Atoi(countStr)
		if convErr != nil {
			return Result{Tag: ProtocolError, Err: "Command parse error", Command: name}
		}
		if n == 0 {
			return Result{Tag: OK, Command: name}
		}
		keyIdx := def.firstKeyPos + 1
		if keyIdx >= len(args) {
			return Result{Tag: ProtocolError, Err: fmt.Sprintf("Failed to find keys of command %s", name), Command: name}
		}
		return Result{Tag: OK, Command: name, HasKey: true, Key: args[keyIdx].data}
	default:
		return Result{Tag: ProtocolError, Err: fmt.Sprintf("Unknown command %s", name), Command: name}
	}
}

// findUnknownKey handles the hard-coded keyword-scan commands named in
// spec.md step 5: XREAD (keyword STREAMS, startfrom=1) and XREADGROUP
// (keyword STREAMS, startfrom=4). EVAL/EVALSHA/FCALL are modeled as keyNum
// in the table above since their numkeys position is fixed. Besides the
// keyword scan, this path also handles SINTERCARD, whose numkeys sits at
// startFrom+1 and whose first key follows it.
func findUnknownKey(name string, args []arg, startFrom int) ([]byte, string) {
	switch name {
	case "XREAD", "XREADGROUP":
		for i := startFrom; i < len(args); i++ {
			if strings.EqualFold(string(args[i].data), "STREAMS") {
				if i+1 < len(args) {
					return args[i+1].data, ""
				}
				return nil, fmt.Sprintf("Failed to find keys of command %s", name)
			}
		}
		return nil, fmt.Sprintf("Failed to find keys of command %s", name)
	case "SINTERCARD":
		if startFrom+2 >= len(args) {
			return nil, fmt.Sprintf("Failed to find keys of command %s", name)
		}
		n, err := strconv.Atoi(string(args[startFrom+1].data))
		if err != nil || n <= 0 {
			return nil, "Command parse error"
		}
		return args[startFrom+2].data, ""
	default:
		return nil, fmt.Sprintf("Unknown command %s", name)
	}
}

func arityOK(arity, argc int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}

// splitMultibulk validates and tokenizes a RESP multibulk command:
// *N\r\n then N bulk strings ($len\r\n<bytes>\r\n).
func splitMultibulk(raw []byte) ([]arg, string) {
	if len(raw) == 0 || raw[0] != '*' {
		return nil, "Command parse error: missing leading '*'"
	}
	i := 1
	n, next, ok := readDecimalLine(raw, i)
	if !ok {
		return nil, "Command parse error: bad multibulk count"
	}
	if n <= 0 {
		return nil, "Command parse error: non-positive multibulk count"
	}
	i = next

	args := make([]arg, 0, n)
	for k := 0; k < n; k++ {
		if i >= len(raw) || raw[i] != '$' {
			return nil, "Command parse error: missing bulk marker"
		}
		i++
		length, next, ok := readDecimalLine(raw, i)
		if !ok || length < 0 {
			return nil, "Command parse error: bad bulk length"
		}
		i = next
		if i+length+2 > len(raw) {
			return nil, "Command parse error: truncated bulk"
		}
		args = append(args, arg{data: raw[i : i+length]})
		i += length + 2 // skip payload and trailing CRLF
	}
	return args, ""
}

// readDecimalLine reads an ASCII decimal integer starting at offset i up to
// a CRLF, returning the value and the offset just past the CRLF.
func readDecimalLine(raw []byte, i int) (int, int, bool) {
	start := i
	neg := false
	if i < len(raw) && raw[i] == '-' {
		neg = true
		i++
	}
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	if i == start || (neg && i == start+1) {
		return 0, 0, false
	}
	if i+1 >= len(raw) || raw[i] != '\r' || raw[i+1] != '\n' {
		return 0, 0, false
	}
	v, err := strconv.Atoi(string(raw[start:i]))
	if err != nil {
		return 0, 0, false
	}
	return v, i + 2, true
}
