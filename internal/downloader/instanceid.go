package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

// NewRunID returns a unique id for an export run (hostname+pid+start time+random).
func NewRunID() string {
	host, _ := os.Hostname()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatInt(time.Now().Unix(), 10) + "-" + hex.EncodeToString(rnd)
}
