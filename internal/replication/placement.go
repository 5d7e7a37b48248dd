package replication

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
)

// ReplicaSetFor returns the origins that should hold docID when its primary
// copy lives at primary. The result always starts with primary. The other
// r-1 members are consecutive entries of the sorted, deduplicated
// non-primary origins, starting at xxhash64(docID) modulo their count. The
// result depends only on its inputs, so every node computes the same set
// from the same known origins.
func ReplicaSetFor(primary string, docID content.DocID, r int, known []string) []string {
	primary = content.NormalizeOrigin(primary)
	set := []string{primary}
	if r <= 1 {
		return set
	}

	others := make([]string, 0, len(known))
	seen := map[string]struct{}{primary: {}}
	for _, o := range known {
		o = content.NormalizeOrigin(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		others = append(others, o)
	}
	if len(others) == 0 {
		return set
	}
	sort.Strings(others)

	start := int(xxhash.Sum64String(docID.String()) % uint64(len(others)))
	for i := 0; i < r-1 && i < len(others); i++ {
		set = append(set, others[(start+i)%len(others)])
	}
	return set
}
