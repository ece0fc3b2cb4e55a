package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvsync/kvsync/internal/storedb"
)

func openTestEngine(testContext *testing.T, name string) *Engine {
	testContext.Helper()
	path := filepath.Join(testContext.TempDir(), name+".db")
	handles, err := storedb.Open(path, nil)
	if err != nil {
		testContext.Fatalf("opening storedb: %v", err)
	}
	testContext.Cleanup(func() { _ = handles.Close() })

	eng, err := New(Config{
		Handles:    handles,
		AuthorName: name,
		Clock:      func() time.Time { return time.Unix(1000, 0) },
	})
	if err != nil {
		testContext.Fatalf("opening engine: %v", err)
	}
	return eng
}

func textVersions(testContext *testing.T, versions []Version) []string {
	testContext.Helper()
	texts := make([]string, 0, len(versions))
	for _, version := range versions {
		texts = append(texts, version.Text)
	}
	return texts
}

func TestWriteThenReadReturnsSingleVersion(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")

	if _, err := replicaA.Write(ctx, WriteRequest{Scope: "s", Key: "k", Type: storedb.EntryTypeText, Text: "v1"}); err != nil {
		testContext.Fatalf("write: %v", err)
	}
	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read: %v", err)
	}
	if len(versions) != 1 || versions[0].Text != "v1" {
		testContext.Fatalf("expected single version v1, got %+v", versions)
	}
}

func TestSecondLocalWriteSupersedesFirst(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")

	if _, err := replicaA.Write(ctx, WriteRequest{Scope: "s", Key: "k", Type: storedb.EntryTypeText, Text: "v1"}); err != nil {
		testContext.Fatalf("write 1: %v", err)
	}
	if _, err := replicaA.Write(ctx, WriteRequest{Scope: "s", Key: "k", Type: storedb.EntryTypeText, Text: "v2"}); err != nil {
		testContext.Fatalf("write 2: %v", err)
	}
	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read: %v", err)
	}
	if len(versions) != 1 || versions[0].Text != "v2" {
		testContext.Fatalf("expected single version v2, got %+v", versions)
	}
}

func TestWriteBulkAssignsEachInputItsOwnIncrementingUSN(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")

	if _, err := replicaA.WriteBulk(ctx, []WriteRequest{
		{Scope: "s", Key: "k1", Type: storedb.EntryTypeText, Text: "v1"},
		{Scope: "s", Key: "k2", Type: storedb.EntryTypeText, Text: "v2"},
		{Scope: "s", Key: "k3", Type: storedb.EntryTypeText, Text: "v3"},
	}); err != nil {
		testContext.Fatalf("write bulk: %v", err)
	}

	var entries []storedb.Entry
	if err := replicaA.read.Where("author_id = ?", replicaA.localAuthorID).Order("key").Find(&entries).Error; err != nil {
		testContext.Fatalf("loading entries: %v", err)
	}
	if len(entries) != 3 {
		testContext.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for index, entry := range entries {
		wantUSN := int64(index + 1)
		if entry.USN != wantUSN {
			testContext.Fatalf("entry %d (%s): expected usn %d, got %d", index, entry.Key, wantUSN, entry.USN)
		}
	}

	var author storedb.Author
	if err := replicaA.read.Where("id = ?", replicaA.localAuthorID).Take(&author).Error; err != nil {
		testContext.Fatalf("loading author: %v", err)
	}
	if author.USN != 3 {
		testContext.Fatalf("expected author usn 3 after 3 bulk inputs, got %d", author.USN)
	}
}

func TestConcurrentWritesMergeIntoConflict(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")

	if _, err := replicaA.Write(ctx, WriteRequest{Scope: "s", Key: "k", Type: storedb.EntryTypeText, Text: "a"}); err != nil {
		testContext.Fatalf("write a: %v", err)
	}
	if _, err := replicaB.Write(ctx, WriteRequest{Scope: "s", Key: "k", Type: storedb.EntryTypeText, Text: "b"}); err != nil {
		testContext.Fatalf("write b: %v", err)
	}

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("merge: %v", err)
	}

	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read: %v", err)
	}
	if len(versions) != 2 {
		testContext.Fatalf("expected 2 conflicting versions, got %+v", versions)
	}
	texts := textVersions(testContext, versions)
	if !(contains(texts, "a") && contains(texts, "b")) {
		testContext.Fatalf("expected versions {a,b}, got %v", texts)
	}
}

func TestResolveByOverwriteCollapsesConflict(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")

	mustWrite(testContext, ctx, replicaA, "s", "k", "a")
	mustWrite(testContext, ctx, replicaB, "s", "k", "b")
	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("merge a<-b: %v", err)
	}

	mustWrite(testContext, ctx, replicaA, "s", "k", "resolved")

	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read after resolve: %v", err)
	}
	if len(versions) != 1 || versions[0].Text != "resolved" {
		testContext.Fatalf("expected single resolved version, got %+v", versions)
	}

	if _, err := replicaB.Merge(ctx, replicaA, MergeOptions{}); err != nil {
		testContext.Fatalf("merge b<-a: %v", err)
	}
	versions, err = replicaB.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read b after merge: %v", err)
	}
	if len(versions) != 1 || versions[0].Text != "resolved" {
		testContext.Fatalf("expected b to collapse to resolved, got %+v", versions)
	}
}

func TestDeleteThenRemoteWriteLeavesTwoVersions(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")

	mustWrite(testContext, ctx, replicaA, "s", "k", "a")
	if _, err := replicaB.Merge(ctx, replicaA, MergeOptions{}); err != nil {
		testContext.Fatalf("seed merge: %v", err)
	}

	if _, err := replicaA.Delete(ctx, "s", "k"); err != nil {
		testContext.Fatalf("delete: %v", err)
	}
	mustWrite(testContext, ctx, replicaB, "s", "k", "b2")

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("merge a<-b: %v", err)
	}

	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read: %v", err)
	}
	if len(versions) != 2 {
		testContext.Fatalf("expected delete + remote write to leave two versions, got %+v", versions)
	}
	sawNull, sawText := false, false
	for _, version := range versions {
		switch version.Type {
		case storedb.EntryTypeNull:
			sawNull = true
		case storedb.EntryTypeText:
			sawText = true
		}
	}
	if !sawNull || !sawText {
		testContext.Fatalf("expected one null and one text version, got %+v", versions)
	}
}

func TestScopeIsolation(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")

	mustWrite(testContext, ctx, replicaA, "scope1", "k", "in-scope-1")
	mustWrite(testContext, ctx, replicaA, "scope2", "k", "in-scope-2")

	versions1, err := replicaA.Read(ctx, "scope1", "k")
	if err != nil {
		testContext.Fatalf("read scope1: %v", err)
	}
	versions2, err := replicaA.Read(ctx, "scope2", "k")
	if err != nil {
		testContext.Fatalf("read scope2: %v", err)
	}
	if len(versions1) != 1 || versions1[0].Text != "in-scope-1" {
		testContext.Fatalf("unexpected scope1 state: %+v", versions1)
	}
	if len(versions2) != 1 || versions2[0].Text != "in-scope-2" {
		testContext.Fatalf("unexpected scope2 state: %+v", versions2)
	}
}

func TestDominatesSelf(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	mustWrite(testContext, ctx, replicaA, "s", "k", "v")

	dominates, err := replicaA.Dominates(ctx, replicaA)
	if err != nil {
		testContext.Fatalf("dominates: %v", err)
	}
	if !dominates {
		testContext.Fatalf("expected a replica to dominate itself")
	}
}

func TestMergeEstablishesDominance(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")
	mustWrite(testContext, ctx, replicaB, "s", "k", "v")

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("merge: %v", err)
	}
	dominates, err := replicaA.Dominates(ctx, replicaB)
	if err != nil {
		testContext.Fatalf("dominates: %v", err)
	}
	if !dominates {
		testContext.Fatalf("expected dest to dominate source after merge")
	}
}

func TestMergeIsIdempotent(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")
	mustWrite(testContext, ctx, replicaB, "s", "k", "v")

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("first merge: %v", err)
	}
	first, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read after first merge: %v", err)
	}

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("second merge: %v", err)
	}
	second, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read after second merge: %v", err)
	}
	if len(first) != len(second) || (len(second) > 0 && first[0].Text != second[0].Text) {
		testContext.Fatalf("expected idempotent merge, got %+v then %+v", first, second)
	}
}

func TestDryRunMergeDoesNotMutate(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")
	mustWrite(testContext, ctx, replicaB, "s", "k", "v")

	result, err := replicaA.Merge(ctx, replicaB, MergeOptions{DryRun: true})
	if err != nil {
		testContext.Fatalf("dry run merge: %v", err)
	}
	if len(result.Changed) != 1 {
		testContext.Fatalf("expected one predicted change, got %+v", result.Changed)
	}

	versions, err := replicaA.Read(ctx, "s", "k")
	if err != nil {
		testContext.Fatalf("read: %v", err)
	}
	if len(versions) != 0 {
		testContext.Fatalf("expected dry run not to mutate destination, got %+v", versions)
	}
}

func TestConsistencyHoldsAfterWriteAndMerge(testContext *testing.T) {
	ctx := context.Background()
	replicaA := openTestEngine(testContext, "a")
	replicaB := openTestEngine(testContext, "b")
	mustWrite(testContext, ctx, replicaA, "s", "k1", "v1")
	mustWrite(testContext, ctx, replicaB, "s", "k2", "v2")

	if _, err := replicaA.Merge(ctx, replicaB, MergeOptions{}); err != nil {
		testContext.Fatalf("merge: %v", err)
	}

	consistent, err := replicaA.CheckConsistency(ctx)
	if err != nil {
		testContext.Fatalf("consistency check: %v", err)
	}
	if !consistent {
		testContext.Fatalf("expected author table to remain consistent")
	}
}

func mustWrite(testContext *testing.T, ctx context.Context, eng *Engine, scope, key, text string) {
	testContext.Helper()
	if _, err := eng.Write(ctx, WriteRequest{Scope: scope, Key: key, Type: storedb.EntryTypeText, Text: text}); err != nil {
		testContext.Fatalf("write(%s,%s,%s): %v", scope, key, text, err)
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
