package apiclient

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Rules are the published dynamic signing parameters the platform's web
// client embeds. They rotate; Signer refetches them periodically.
type Rules struct {
	StaticParam      string `json:"static_param"`
	Prefix           string `json:"prefix"`
	Suffix           string `json:"suffix"`
	ChecksumIndexes  []int  `json:"checksum_indexes"`
	ChecksumConstant int    `json:"checksum_constant"`
}

// ruleSources are community-maintained mirrors of the current rules.
var ruleSources = []string{
	"https://raw.githubusercontent.com/datawhores/onlyfans-dynamic-rules/main/dynamicRules.json",
	"https://raw.githubusercontent.com/DIGITALCRIMINALS/dynamic-rules/main/onlyfans.json",
}

const rulesCacheDuration = 30 * time.Minute

// Sign computes the request signature header for a path (including its
// query string): prefix ":" sha1-hex ":" checksum-hex ":" suffix, where
// the checksum sums the ASCII digest bytes at the rule's indexes plus a
// constant. Returns the signature and the millisecond timestamp that
// went into it.
func Sign(rules Rules, path, authID string, at time.Time) (string, string) {
	timestamp := strconv.FormatInt(at.UnixMilli(), 10)

	message := strings.Join([]string{rules.StaticParam, timestamp, path, authID}, "\n")
	digest := sha1.Sum([]byte(message))
	hexDigest := hex.EncodeToString(digest[:])

	checksum := rules.ChecksumConstant
	for _, i := range rules.ChecksumIndexes {
		if i >= 0 && i < len(hexDigest) {
			checksum += int(hexDigest[i])
		}
	}
	if checksum < 0 {
		checksum = -checksum
	}

	return fmt.Sprintf("%s:%s:%x:%s", rules.Prefix, hexDigest, checksum, rules.Suffix), timestamp
}

// GenerateXBC derives the x-bc browser token:
// sha1 over dot-joined base64 of timestamp, two random ints and the
// user agent.
func GenerateXBC(userAgent string, at time.Time, rand1, rand2 int64) string {
	parts := []string{
		base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(at.UnixMilli(), 10))),
		base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(rand1, 10))),
		base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(rand2, 10))),
		base64.StdEncoding.EncodeToString([]byte(userAgent)),
	}

	digest := sha1.Sum([]byte(strings.Join(parts, ".")))
	return hex.EncodeToString(digest[:])
}

// Signer caches dynamic rules and signs request paths with them.
type Signer struct {
	http   *resty.Client
	logger *slog.Logger

	mu       sync.Mutex
	cached   *Rules
	cachedAt time.Time
}

func NewSigner(logger *slog.Logger) *Signer {
	return &Signer{
		http:   resty.New().SetTimeout(10 * time.Second),
		logger: logger.With("component", "signer"),
	}
}

// UseStaticRules pins the signer to fixed rules and disables remote
// fetching. Offline runs and tests use it.
func (s *Signer) UseStaticRules(rules Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = &rules
	s.cachedAt = time.Now().Add(1000 * time.Hour)
}

func (s *Signer) Sign(ctx context.Context, path, authID string) (string, string) {
	rules := s.rules(ctx)
	return Sign(rules, path, authID, time.Now())
}

func (s *Signer) rules(ctx context.Context) Rules {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.cachedAt) < rulesCacheDuration {
		return *s.cached
	}

	for _, source := range ruleSources {
		var rules Rules
		resp, err := s.http.R().SetContext(ctx).SetResult(&rules).Get(source)
		if err != nil || resp.IsError() {
			s.logger.Warn("failed to fetch signing rules", "source", source, "error", err)
			continue
		}

		s.cached = &rules
		s.cachedAt = time.Now()
		s.logger.Info("signing rules refreshed", "source", source, "prefix", rules.Prefix)
		return rules
	}

	if s.cached != nil {
		s.logger.Warn("all rule sources failed, reusing stale rules")
		return *s.cached
	}

	s.logger.Error("all rule sources failed and no cache, using fallback rules")
	return fallbackRules()
}

// fallbackRules are almost certainly outdated; requests signed with them
// will be rejected, but the client stays functional enough to report it.
func fallbackRules() Rules {
	indexes := make([]int, 32)
	for i := range indexes {
		indexes[i] = i
	}
	return Rules{
		StaticParam:     "STATIC_PARAM_PLACEHOLDER",
		Prefix:          "00000",
		Suffix:          "SUFFIX",
		ChecksumIndexes: indexes,
	}
}
