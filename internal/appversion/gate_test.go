package appversion

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
)

func openTestHandles(testContext *testing.T) storedb.Handles {
	testContext.Helper()
	path := filepath.Join(testContext.TempDir(), "kvsync.db")
	handles, err := storedb.Open(path, nil)
	if err != nil {
		testContext.Fatalf("opening test handles: %v", err)
	}
	testContext.Cleanup(func() { _ = handles.Close() })
	return handles
}

func TestCheckOpenStampsFreshFile(testContext *testing.T) {
	handles := openTestHandles(testContext)
	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}

	if err := gate.CheckOpen(handles.Write); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}

	var rows []storedb.ApplicationIdentifier
	if err := handles.Write.Find(&rows).Error; err != nil {
		testContext.Fatalf("reading stamp: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "myapp" {
		testContext.Fatalf("expected stamped identifier, got %+v", rows)
	}
}

func TestCheckOpenFailsOnDifferentApplication(testContext *testing.T) {
	handles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 1}}).CheckOpen(handles.Write); err != nil {
		testContext.Fatalf("stamping initial identifier: %v", err)
	}

	err := (Gate{Expected: Identifier{ID: "otherapp", Major: 1}}).CheckOpen(handles.Write)
	if !errors.Is(err, ErrIncompatibleApplications) {
		testContext.Fatalf("expected ErrIncompatibleApplications, got %v", err)
	}
}

func TestCheckOpenFailsWhenDataTooNew(testContext *testing.T) {
	handles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 2, Minor: 0}}).CheckOpen(handles.Write); err != nil {
		testContext.Fatalf("stamping initial identifier: %v", err)
	}

	err := (Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}).CheckOpen(handles.Write)
	if !errors.Is(err, ErrApplicationDataTooNew) {
		testContext.Fatalf("expected ErrApplicationDataTooNew, got %v", err)
	}
}

func TestCheckOpenRunsUpgradeOnMinorBump(testContext *testing.T) {
	handles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}).CheckOpen(handles.Write); err != nil {
		testContext.Fatalf("stamping initial identifier: %v", err)
	}

	upgradeCalls := 0
	gate := Gate{
		Expected: Identifier{ID: "myapp", Major: 1, Minor: 1},
		Upgrade: func(tx *gorm.DB, stored *Identifier) error {
			upgradeCalls++
			if stored == nil || stored.Minor != 0 {
				testContext.Fatalf("expected upgrade to see the prior minor version, got %+v", stored)
			}
			return nil
		},
	}
	if err := gate.CheckOpen(handles.Write); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if upgradeCalls != 1 {
		testContext.Fatalf("expected upgrade callback to run exactly once, got %d", upgradeCalls)
	}
}

func TestCheckMergeAcceptsUnstampedPeer(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}

	if err := gate.CheckMerge(peerHandles.Read); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckMergeFailsOnDifferentApplication(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "otherapp", Major: 1}}).CheckOpen(peerHandles.Write); err != nil {
		testContext.Fatalf("stamping peer: %v", err)
	}

	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1}}
	err := gate.CheckMerge(peerHandles.Read)
	if !errors.Is(err, ErrMergeSourceIncompatible) {
		testContext.Fatalf("expected ErrMergeSourceIncompatible, got %v", err)
	}
}

func TestCheckMergeFailsWhenPeerMajorIsNewer(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 2, Minor: 0}}).CheckOpen(peerHandles.Write); err != nil {
		testContext.Fatalf("stamping peer: %v", err)
	}

	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}
	err := gate.CheckMerge(peerHandles.Read)
	if !errors.Is(err, ErrMergeSourceIncompatible) {
		testContext.Fatalf("expected ErrMergeSourceIncompatible, got %v", err)
	}
}

func TestCheckMergeFailsRequiresUpgradeWhenPeerMinorIsNewerAndUpgradePossible(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 1}}).CheckOpen(peerHandles.Write); err != nil {
		testContext.Fatalf("stamping peer: %v", err)
	}

	gate := Gate{
		Expected: Identifier{ID: "myapp", Major: 1, Minor: 0},
		Upgrade: func(tx *gorm.DB, stored *Identifier) error {
			testContext.Fatalf("CheckMerge must never invoke Upgrade itself")
			return nil
		},
	}
	err := gate.CheckMerge(peerHandles.Read)
	if !errors.Is(err, ErrMergeSourceRequiresUpgrade) {
		testContext.Fatalf("expected ErrMergeSourceRequiresUpgrade, got %v", err)
	}
}

func TestCheckMergeFailsIncompatibleWhenPeerMinorIsNewerAndNoUpgradePossible(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 1}}).CheckOpen(peerHandles.Write); err != nil {
		testContext.Fatalf("stamping peer: %v", err)
	}

	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}
	err := gate.CheckMerge(peerHandles.Read)
	if !errors.Is(err, ErrMergeSourceIncompatible) {
		testContext.Fatalf("expected ErrMergeSourceIncompatible, got %v", err)
	}
}

func TestCheckMergeAcceptsOlderPeer(testContext *testing.T) {
	peerHandles := openTestHandles(testContext)
	if err := (Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 0}}).CheckOpen(peerHandles.Write); err != nil {
		testContext.Fatalf("stamping peer: %v", err)
	}

	gate := Gate{Expected: Identifier{ID: "myapp", Major: 1, Minor: 1}}
	if err := gate.CheckMerge(peerHandles.Read); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
}

func TestIsOlderComparesMajorThenMinor(testContext *testing.T) {
	if !isOlder(Identifier{Major: 1, Minor: 0}, Identifier{Major: 1, Minor: 1}) {
		testContext.Fatalf("expected stored to be older by minor")
	}
	if isOlder(Identifier{Major: 2, Minor: 0}, Identifier{Major: 1, Minor: 9}) {
		testContext.Fatalf("expected higher major not to be older")
	}
}
