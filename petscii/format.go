package petscii

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders n as a short human readable size with a trailing
// space, e.g. "512 B " or "1.5 GB ".
func FormatBytes(n uint64) string {
	if n < 1024 {
		return printer.Sprintf("%d %s ", n, byteUnits[0])
	}
	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return printer.Sprintf("%.1f %s ", v, byteUnits[unit])
}
