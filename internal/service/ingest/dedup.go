package ingest

import "github.com/feichai0017/study-ingestor/internal/models"

// dedup drops items whose key is already in existing or appeared earlier in
// items. Order is preserved.
func dedup(items []models.ExtractedItem, existing map[string]struct{}) []models.ExtractedItem {
	seen := make(map[string]struct{}, len(existing)+len(items))
	for k := range existing {
		seen[k] = struct{}{}
	}

	out := make([]models.ExtractedItem, 0, len(items))
	for _, it := range items {
		key := it.DedupKey()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[models.NormalizeKey(k)] = struct{}{}
	}
	return set
}

// groups splits items into consecutive slices of at most size.
func groups(items []models.ExtractedItem, size int) [][]models.ExtractedItem {
	var out [][]models.ExtractedItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
