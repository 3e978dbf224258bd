package target

import "strings"

// Triple is a parsed arch-vendor-os[-env] target triple.
type Triple struct {
	Arch   string
	Vendor string
	OS     string
	Env    string
}

var (
	knownVendors = []string{"unknown", "pc", "apple", "ibm", "suse", "redhat", "amd", "nvidia"}
	knownOSes    = []string{"unknown", "linux", "darwin", "macos", "ios", "windows", "freebsd", "netbsd", "openbsd", "fuchsia", "none", "wasi"}
	knownEnvs    = []string{"gnu", "gnueabi", "gnueabihf", "musl", "musleabi", "musleabihf", "eabi", "eabihf", "android", "msvc", "elf", "macho"}
)

func member(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParseTriple splits s into its components, filling missing vendor and os
// with "unknown". Components are matched by kind, so "x86_64-linux-gnu"
// parses with an unknown vendor.
func ParseTriple(s string) Triple {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "-")
	t := Triple{Arch: parts[0], Vendor: "unknown", OS: "unknown"}
	rest := parts[1:]

	if len(rest) > 0 && (member(knownVendors, rest[0]) || (!member(knownOSes, rest[0]) && !member(knownEnvs, rest[0]))) {
		t.Vendor = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && !member(knownEnvs, rest[0]) {
		t.OS = rest[0]
		rest = rest[1:]
	}
	t.Env = strings.Join(rest, "-")
	return t
}

// String renders the triple in canonical form.
func (t Triple) String() string {
	s := t.Arch + "-" + t.Vendor + "-" + t.OS
	if t.Env != "" {
		s += "-" + t.Env
	}
	return s
}

// Normalize returns the canonical spelling of a triple.
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return ParseTriple(s).String()
}
