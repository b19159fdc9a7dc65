package api

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Device names seen in real mobile-app traffic; the portal only checks the
// general shape of the header.
var deviceNames = []string{
	"Pixel 6",
	"Pixel 7 Pro",
	"SM-G991B",
	"SM-A525F",
	"Redmi Note 10 Pro",
	"M2101K6G",
	"ONEPLUS A6013",
	"XQ-BC72",
}

// RandomUserAgent builds a plausible Android app user-agent:
// ru.hh.android/7.<minor>.<patch>, Device: <name>, Android OS: <n> (UUID: <v4>)
func RandomUserAgent() string {
	return fmt.Sprintf("ru.hh.android/7.%d.%d, Device: %s, Android OS: %d (UUID: %s)",
		rand.Intn(90)+10,
		rand.Intn(10),
		deviceNames[rand.Intn(len(deviceNames))],
		rand.Intn(6)+9,
		uuid.NewString(),
	)
}
