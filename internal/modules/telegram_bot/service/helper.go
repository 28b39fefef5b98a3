package service

import (
	"fmt"
	"strconv"
	"strings"
)

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}

func f2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

// mask прячет середину ключа API.
func mask(s string) string {
	if s == "" {
		return "—"
	}
	if len(s) <= 6 {
		return "***"
	}
	return s[:3] + "…" + s[len(s)-3:]
}
