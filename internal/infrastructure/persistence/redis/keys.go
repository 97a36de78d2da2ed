package redis

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/taskgate/pkg/constants"
)

// KeySpace builds the store keys of one user. User ids are opaque, so they are
// used verbatim (taskQueue:123). On a cluster the id is hex encoded inside a
// hash tag (taskQueue:{313233}) so every key of one user lands in one slot and
// braces in the id cannot move the tag.
type KeySpace struct {
	hashTags bool
}

// PlainKeys is the standalone and sentinel layout.
var PlainKeys = KeySpace{}

// ClusterKeys is the hash tagged layout.
var ClusterKeys = KeySpace{hashTags: true}

// KeySpaceFor picks the layout matching client.
func KeySpaceFor(client redis.UniversalClient) KeySpace {
	if _, ok := client.(*redis.ClusterClient); ok {
		return ClusterKeys
	}
	return PlainKeys
}

func (k KeySpace) user(userID string) string {
	if k.hashTags {
		return "{" + hex.EncodeToString([]byte(userID)) + "}"
	}
	return userID
}

func (k KeySpace) userKey(prefix, userID string) string {
	return prefix + ":" + k.user(userID)
}

// RateLimit returns rateLimit:<user>:second or rateLimit:<user>:minute.
func (k KeySpace) RateLimit(userID, window string) string {
	return fmt.Sprintf("%s:%s:%s", constants.KeyPrefixRateLimit, k.user(userID), window)
}

func (k KeySpace) TaskQueue(userID string) string    { return k.userKey(constants.KeyPrefixTaskQueue, userID) }
func (k KeySpace) TaskInFlight(userID string) string { return k.userKey(constants.KeyPrefixTaskInFlight, userID) }
func (k KeySpace) ProcessedCount(userID string) string {
	return k.userKey(constants.KeyPrefixProcessedCount, userID)
}
func (k KeySpace) FailedCount(userID string) string  { return k.userKey(constants.KeyPrefixFailedCount, userID) }
func (k KeySpace) LastTaskTime(userID string) string { return k.userKey(constants.KeyPrefixLastTaskTime, userID) }
func (k KeySpace) Processing(userID string) string   { return k.userKey(constants.KeyPrefixProcessing, userID) }

// Idempotency scopes a client supplied key to the submitting user. The user part
// is always hex encoded; a raw id could contain the separator.
func (k KeySpace) Idempotency(userID, key string) string {
	user := hex.EncodeToString([]byte(userID))
	if k.hashTags {
		user = "{" + user + "}"
	}
	return fmt.Sprintf("%s:%s:%s", constants.KeyPrefixIdempotency, user, key)
}

// scanPattern matches every key with prefix.
func (k KeySpace) scanPattern(prefix string) string {
	if k.hashTags {
		return prefix + ":{*}"
	}
	return prefix + ":*"
}

// userFromKey extracts the user id from a key built by userKey.
func (k KeySpace) userFromKey(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix+":")
	if !ok || rest == "" {
		return "", false
	}
	if !k.hashTags {
		return rest, true
	}
	tag, ok := strings.CutPrefix(rest, "{")
	if !ok {
		return "", false
	}
	tag, ok = strings.CutSuffix(tag, "}")
	if !ok {
		return "", false
	}
	raw, err := hex.DecodeString(tag)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// Plain layout helpers, used by tooling and tests against a single node.

func RateLimitKey(userID, window string) string { return PlainKeys.RateLimit(userID, window) }
func TaskQueueKey(userID string) string         { return PlainKeys.TaskQueue(userID) }
func TaskInFlightKey(userID string) string      { return PlainKeys.TaskInFlight(userID) }
func ProcessedCountKey(userID string) string    { return PlainKeys.ProcessedCount(userID) }
func FailedCountKey(userID string) string       { return PlainKeys.FailedCount(userID) }
func LastTaskTimeKey(userID string) string      { return PlainKeys.LastTaskTime(userID) }
func ProcessingKey(userID string) string        { return PlainKeys.Processing(userID) }
func IdempotencyKey(userID, key string) string  { return PlainKeys.Idempotency(userID, key) }
