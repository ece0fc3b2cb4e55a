package storedb

import "testing"

func TestSearchFullTextFindsIndexedText(testContext *testing.T) {
	handles := openTestHandles(testContext)

	if err := IndexEntryText(handles.Write, "notes", "k1", "author-1", "the quick brown fox"); err != nil {
		testContext.Fatalf("indexing entry: %v", err)
	}
	if err := IndexEntryText(handles.Write, "notes", "k2", "author-1", "a slow turtle"); err != nil {
		testContext.Fatalf("indexing entry: %v", err)
	}

	matches, err := SearchFullText(handles.Write, "fox")
	if err != nil {
		testContext.Fatalf("searching: %v", err)
	}
	if len(matches) != 1 {
		testContext.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Scope != "notes" || matches[0].Key != "k1" {
		testContext.Fatalf("unexpected match: %+v", matches[0])
	}
}

func TestDeindexEntryRemovesFromSearch(testContext *testing.T) {
	handles := openTestHandles(testContext)

	if err := IndexEntryText(handles.Write, "notes", "k1", "author-1", "searchable text"); err != nil {
		testContext.Fatalf("indexing entry: %v", err)
	}
	if err := DeindexEntry(handles.Write, "notes", "k1", "author-1"); err != nil {
		testContext.Fatalf("deindexing entry: %v", err)
	}

	matches, err := SearchFullText(handles.Write, "searchable")
	if err != nil {
		testContext.Fatalf("searching: %v", err)
	}
	if len(matches) != 0 {
		testContext.Fatalf("expected no matches after deindex, got %d", len(matches))
	}
}
