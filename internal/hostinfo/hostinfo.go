// Package hostinfo describes the host CPU the benchmark was launched from.
package hostinfo

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Info is the host description attached to reports.
type Info struct {
	OS       string   `json:"os"`
	Arch     string   `json:"arch"`
	NumCPU   int      `json:"numCpu"`
	Features []string `json:"features,omitempty"`
}

func (i Info) String() string {
	s := i.OS + "/" + i.Arch
	if len(i.Features) > 0 {
		s += " [" + strings.Join(i.Features, " ") + "]"
	}
	return s
}

// Detect reads the host CPU features relevant to the host emulation driver.
func Detect() Info {
	return Info{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		Features: features(runtime.GOARCH),
	}
}

type feature struct {
	name string
	has  bool
}

func features(arch string) []string {
	var list []feature
	switch arch {
	case "amd64", "386":
		list = []feature{
			{"SSE4.1", cpu.X86.HasSSE41},
			{"SSE4.2", cpu.X86.HasSSE42},
			{"AVX", cpu.X86.HasAVX},
			{"AVX2", cpu.X86.HasAVX2},
			{"FMA", cpu.X86.HasFMA},
			{"AVX512F", cpu.X86.HasAVX512F},
			{"AVX512BF16", cpu.X86.HasAVX512BF16},
			{"AMX-BF16", cpu.X86.HasAMXBF16},
		}
	case "arm64":
		list = []feature{
			{"ASIMD", cpu.ARM64.HasASIMD},
			{"FPHP", cpu.ARM64.HasFPHP},
			{"ASIMDHP", cpu.ARM64.HasASIMDHP},
			{"SVE", cpu.ARM64.HasSVE},
			{"SVE2", cpu.ARM64.HasSVE2},
		}
	}
	var out []string
	for _, f := range list {
		if f.has {
			out = append(out, f.name)
		}
	}
	return out
}
