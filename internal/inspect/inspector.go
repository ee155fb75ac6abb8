// Package inspect enumerates a vault's active secrets and classifies them by
// naming heuristics into reporting buckets, optionally sampling value shape
// without exposing raw secret contents.
package inspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/vault"
)

// Bucket is a reporting category derived from a secret's name. A name may
// land in multiple buckets; Unclassified is used when no keyword matches.
type Bucket string

const (
	BucketConnectionString Bucket = "ConnectionString"
	BucketAPIKeyOrToken    Bucket = "ApiKeyOrToken"
	BucketEndpoint         Bucket = "Endpoint"
	BucketUnclassified     Bucket = "Unclassified"
)

var (
	connectionKeywords = []string{"connection", "conn", "db", "database", "sql"}
	keyTokenKeywords   = []string{"key", "token", "secret"}
	endpointKeywords   = []string{"url", "endpoint", "uri"}
)

// Entry is one secret's report row. Shape is nil unless value sampling was
// requested; the raw value never appears anywhere in an Entry.
type Entry struct {
	Name     string         `json:"name"`
	Metadata vault.Metadata `json:"metadata"`
	Buckets  []Bucket       `json:"buckets"`
	Shape    *ValueShape    `json:"shape,omitempty"`
}

// Inspector reads secrets from a vault and produces report entries.
type Inspector struct {
	vault  vault.Client
	logger *logging.Logger
}

// New creates an Inspector.
func New(v vault.Client, logger *logging.Logger) *Inspector {
	return &Inspector{vault: v, logger: logger}
}

// Inspect lists active secrets and builds one Entry per name. Per-name fetch
// failures warn and are skipped; only a failed listing returns an error.
func (i *Inspector) Inspect(ctx context.Context, sampleValues bool) ([]Entry, error) {
	names, err := i.vault.ListSecretNames(ctx)
	if err != nil {
		if vault.IsAuth(err) {
			return nil, fmt.Errorf("vault authorization failed: %w", err)
		}
		return nil, fmt.Errorf("vault unavailable: %w", err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		md, value, err := i.vault.GetActive(ctx, name)
		if err != nil {
			i.logger.Warn("Skipping %s: %v", name, err)
			continue
		}
		entry := Entry{
			Name:     name,
			Metadata: md,
			Buckets:  Classify(name),
		}
		if sampleValues {
			shape := DescribeValue(value)
			entry.Shape = &shape
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func matchesAny(name string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

// Classify buckets a secret name by case-insensitive substring match against
// fixed keyword sets. A key/token match is suppressed when the name also
// matches the connection-string set, so a "DbSecret" stays a connection
// string rather than double-reporting.
func Classify(name string) []Bucket {
	lower := strings.ToLower(name)

	var buckets []Bucket
	isConnection := matchesAny(lower, connectionKeywords)
	if isConnection {
		buckets = append(buckets, BucketConnectionString)
	}
	if !isConnection && matchesAny(lower, keyTokenKeywords) {
		buckets = append(buckets, BucketAPIKeyOrToken)
	}
	if matchesAny(lower, endpointKeywords) {
		buckets = append(buckets, BucketEndpoint)
	}
	if len(buckets) == 0 {
		buckets = append(buckets, BucketUnclassified)
	}
	return buckets
}
