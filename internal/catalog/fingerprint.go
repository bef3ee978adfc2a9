package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// DomainCatalog is the domain prefix for catalog fingerprints.
// The version suffix allows the listing format to change later.
const DomainCatalog = "compsearch/catalog/v1"

// Fingerprint computes the content digest of a catalog.
//
// The digest covers ids, names, costs, trait memberships and thresholds in id
// order, so two catalogs share a fingerprint only if every stored key means
// the same set of entities in both.
// Format: SHA256(domain + 0x00 + listing)
func Fingerprint(c *Catalog) string {
	return hashWithDomain(DomainCatalog, canonicalListing(c))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalListing renders one line per trait then one line per entity:
//
//	t <id> <quoted name> <threshold,...>
//	e <id> <quoted name> <cost> <trait id,...>
func canonicalListing(c *Catalog) []byte {
	var buf bytes.Buffer
	for _, t := range c.traits {
		fmt.Fprintf(&buf, "t %d %s %s\n", t.ID, strconv.Quote(t.Name), joinInts(t.Thresholds))
	}
	for _, e := range c.entities {
		ids := make([]int, len(e.Traits))
		for i, t := range e.Traits {
			ids[i] = int(t)
		}
		fmt.Fprintf(&buf, "e %d %s %d %s\n", e.ID, strconv.Quote(e.Name), e.Cost, joinInts(ids))
	}
	return buf.Bytes()
}

func joinInts(xs []int) string {
	b := make([]byte, 0, len(xs)*3)
	for i, x := range xs {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, int64(x), 10)
	}
	return string(b)
}
