package activitypub

import (
	"fmt"
	"log"
)

// WalkCollection fetches the collection at uri and returns its items in
// order, following pages via first/next. Traversal stops when the configured
// page or item ceilings are hit; what was gathered so far is returned.
func (f *Fetcher) WalkCollection(uri string) ([]any, error) {
	doc, err := f.Fetch(uri)
	if err != nil {
		return nil, err
	}
	return f.WalkCollectionDoc(doc)
}

// WalkCollectionDoc walks an already-fetched collection document.
func (f *Fetcher) WalkCollectionDoc(doc map[string]any) ([]any, error) {
	maxPages := f.Conf.Federation.MaxCollectionPages
	maxItems := f.Conf.Federation.MaxCollectionItems

	var items []any
	pages := 0

	appendItems := func(page map[string]any) bool {
		for _, key := range []string{"orderedItems", "items"} {
			list, ok := page[key].([]any)
			if !ok {
				continue
			}
			for _, item := range list {
				if len(items) >= maxItems {
					log.Printf("Collection: item ceiling of %d reached, truncating", maxItems)
					return false
				}
				items = append(items, item)
			}
		}
		return true
	}

	page := doc
	// A collection either inlines its items or points at a first page.
	if _, hasItems := collectionItems(doc); !hasItems {
		first, err := f.resolvePage(doc["first"])
		if err != nil {
			return items, err
		}
		if first == nil {
			return items, nil
		}
		page = first
	}

	for page != nil {
		pages++
		if pages > maxPages {
			log.Printf("Collection: page ceiling of %d reached, truncating", maxPages)
			break
		}
		if !appendItems(page) {
			break
		}
		next, err := f.resolvePage(page["next"])
		if err != nil {
			// A broken tail page does not discard what was already walked.
			log.Printf("Collection: failed to fetch next page: %v", err)
			break
		}
		page = next
	}

	return items, nil
}

// resolvePage turns a first/next reference into a page document. The
// reference is either an inline page object, a URI to fetch, or absent.
func (f *Fetcher) resolvePage(ref any) (map[string]any, error) {
	switch v := ref.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return f.Fetch(v)
	default:
		return nil, fmt.Errorf("unsupported page reference type %T", ref)
	}
}

func collectionItems(doc map[string]any) ([]any, bool) {
	if list, ok := doc["orderedItems"].([]any); ok {
		return list, true
	}
	if list, ok := doc["items"].([]any); ok {
		return list, true
	}
	return nil, false
}
