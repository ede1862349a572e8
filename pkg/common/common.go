package common

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
)

// UUIDint64 returns a snowflake id, unique per process node.
func UUIDint64() int64 {
	nodeOnce.Do(func() {
		var err error
		node, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return node.Generate().Int64()
}

// RandomToken returns n random bytes hex encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and collapses everything that is not [a-z0-9] into single dashes.
func Slugify(s string) string {
	s = slugCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}
