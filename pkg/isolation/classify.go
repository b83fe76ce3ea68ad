package isolation

import "strings"

// Command line switches understood by Classify.
const (
	SwitchProcessType = "type"

	SwitchValueRenderer = "renderer"
	SwitchValueGPU      = "gpu-process"
	SwitchValueUtility  = "utility"
)

// SwitchValue returns the value of --key=value in commandLine, or "" and false.
func SwitchValue(commandLine []string, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	prefix := "--" + key + "="
	for _, arg := range commandLine {
		if strings.HasPrefix(arg, prefix) {
			return arg[len(prefix):], true
		}
	}
	return "", false
}

// ProcessTypeFromCommandLine maps the --type switch to a ProcessType.
func ProcessTypeFromCommandLine(commandLine []string) ProcessType {
	value, ok := SwitchValue(commandLine, SwitchProcessType)
	if !ok {
		return ProcessTypeUnknown
	}
	switch value {
	case SwitchValueRenderer:
		return ProcessTypeRenderer
	case SwitchValueGPU:
		return ProcessTypeGPU
	case SwitchValueUtility:
		return ProcessTypeUtility
	default:
		return ProcessTypeUnknown
	}
}

// ProfileFor returns the launch profile of a process type.
// GPU workers are privileged and always in the foreground; everything else
// is sandboxed at normal priority. Utility workers are only supported
// sandboxed.
func ProfileFor(pt ProcessType) Profile {
	switch pt {
	case ProcessTypeGPU:
		return Profile{Type: pt, Class: Privileged, AlwaysForeground: true}
	default:
		return Profile{Type: pt, Class: Sandboxed}
	}
}

// Classify resolves the profile of a request. An explicit process type wins;
// otherwise the --type switch of the command line is used.
func Classify(explicit ProcessType, commandLine []string) Profile {
	pt := explicit
	if pt == ProcessTypeUnknown {
		pt = ProcessTypeFromCommandLine(commandLine)
	}
	return ProfileFor(pt)
}
