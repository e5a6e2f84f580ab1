package routeros

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mikronoc/mikronoc/internal/model"
)

// Field mapping is kept version-agnostic: every field is optional and
// absent keys simply stay at their zero value. Newer and older RouterOS
// firmware differ in which attributes /system/resource/print reports.

func parseSystemResource(m map[string]string) model.SystemResource {
	res := model.SystemResource{
		BoardName: m["board-name"],
		Version:   m["version"],
		CPULoad:   parseFloat(m["cpu-load"]),
	}
	res.MemoryTotal = parseInt(m["total-memory"])
	res.MemoryFree = parseInt(m["free-memory"])
	res.DiskTotal = parseInt(m["total-hdd-space"])
	res.DiskFree = parseInt(m["free-hdd-space"])
	if up, err := parseUptime(m["uptime"]); err == nil {
		res.UptimeSeconds = up
	}
	return res
}

func parseInterfaceStatus(m map[string]string) model.InterfaceStatus {
	return model.InterfaceStatus{
		Name:     m["name"],
		Type:     m["type"],
		Running:  parseBool(m["running"]),
		Disabled: parseBool(m["disabled"]),
		Comment:  m["comment"],
	}
}

func parseInterfaceCounters(m map[string]string) model.InterfaceCounters {
	return model.InterfaceCounters{
		Name:     m["name"],
		RxByte:   parseUint(m["rx-byte"]),
		TxByte:   parseUint(m["tx-byte"]),
		Running:  parseBool(m["running"]),
		Disabled: parseBool(m["disabled"]),
	}
}

// parseUptime converts RouterOS uptime notation ("2w3d4h56m7s") to seconds.
func parseUptime(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty uptime")
	}
	var total int64
	var num strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num.WriteRune(r)
			continue
		}
		if num.Len() == 0 {
			return 0, fmt.Errorf("invalid uptime %q", s)
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid uptime %q: %w", s, err)
		}
		num.Reset()
		switch r {
		case 'w':
			total += n * 7 * 24 * 3600
		case 'd':
			total += n * 24 * 3600
		case 'h':
			total += n * 3600
		case 'm':
			total += n * 60
		case 's':
			total += n
		default:
			return 0, fmt.Errorf("invalid uptime unit %q in %q", r, s)
		}
	}
	if num.Len() != 0 {
		return 0, fmt.Errorf("trailing digits in uptime %q", s)
	}
	return total, nil
}

func parseBool(s string) bool {
	return s == "true" || s == "yes"
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
