// Package appversion implements the application-version compatibility gate
// the check that runs on every open and on every merge to
// decide whether the calling application's idea of its own data format
// still matches what is stamped in the file.
package appversion

import (
	"errors"
	"fmt"

	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
)

// Identifier is the caller-supplied expectation: the application id this
// build of the application was written against, and the major/minor pair
// of its own data format.
type Identifier struct {
	ID    string
	Major int64
	Minor int64
}

var (
	// ErrApplicationDataTooNew is returned when the stored major version
	// exceeds the expected major version.
	ErrApplicationDataTooNew = errors.New("application data is newer than this build expects")
	// ErrIncompatibleApplications is returned when the stored application
	// id differs from the expected one.
	ErrIncompatibleApplications = errors.New("stored application identifier does not match expected")
	// ErrMergeSourceIncompatible is returned when a merge partner's stamp
	// is incompatible with the local expectation.
	ErrMergeSourceIncompatible = errors.New("merge source application identifier is incompatible")
	// ErrMergeSourceRequiresUpgrade is returned when a merge partner is
	// newer in a way an upgrade callback could resolve, but none ran.
	ErrMergeSourceRequiresUpgrade = errors.New("merge source requires an upgrade before it can be merged")
)

// UpgradeFunc is invoked with the currently stored identifier (nil if none
// is stamped yet) and must bring the database's on-disk
// shape up to date with Expected. It runs inside the same transaction as
// the gate check, so an upgrade failure aborts the open.
type UpgradeFunc func(tx *gorm.DB, stored *Identifier) error

// Gate enforces the application-version compatibility table.
type Gate struct {
	Expected Identifier
	Upgrade  UpgradeFunc
}

// CheckOpen runs the open-time gate inside tx, stamping the identifier
// table when no stamp exists yet or the stored version is older than
// Expected, after running Upgrade if one is set.
func (g Gate) CheckOpen(tx *gorm.DB) error {
	stored, err := loadStored(tx)
	if err != nil {
		return err
	}

	switch {
	case stored == nil:
		if g.Upgrade != nil {
			if err := g.Upgrade(tx, nil); err != nil {
				return fmt.Errorf("appversion: upgrade callback: %w", err)
			}
		}
		return stamp(tx, g.Expected)

	case stored.ID != g.Expected.ID:
		return ErrIncompatibleApplications

	case stored.Major > g.Expected.Major:
		return ErrApplicationDataTooNew

	case isOlder(*stored, g.Expected):
		if g.Upgrade != nil {
			if err := g.Upgrade(tx, stored); err != nil {
				return fmt.Errorf("appversion: upgrade callback: %w", err)
			}
		}
		return stamp(tx, g.Expected)

	default:
		return nil
	}
}

// CheckMerge runs the merge-time gate against a peer's stamped identifier,
// read from the peer's own database handle. It never runs Upgrade itself.
// A peer with a different id or a newer major version fails
// merge-source-incompatible. A peer with the same major and a newer minor
// fails merge-source-requires-upgrade when an upgrade path exists (so the
// caller can upgrade the destination first) and merge-source-incompatible
// when none does.
func (g Gate) CheckMerge(peerTx *gorm.DB) error {
	peer, err := loadStored(peerTx)
	if err != nil {
		return err
	}
	if peer == nil {
		return nil
	}
	if peer.ID != g.Expected.ID {
		return ErrMergeSourceIncompatible
	}
	if peer.Major > g.Expected.Major {
		return ErrMergeSourceIncompatible
	}
	if isOlder(g.Expected, *peer) {
		if g.Upgrade != nil {
			return ErrMergeSourceRequiresUpgrade
		}
		return ErrMergeSourceIncompatible
	}
	return nil
}

// isOlder reports whether stored's (major, minor) pair precedes expected's.
func isOlder(stored Identifier, expected Identifier) bool {
	if stored.Major != expected.Major {
		return stored.Major < expected.Major
	}
	return stored.Minor < expected.Minor
}

func loadStored(tx *gorm.DB) (*Identifier, error) {
	var rows []storedb.ApplicationIdentifier
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("appversion: loading stamp: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &Identifier{ID: row.ID, Major: row.Major, Minor: row.Minor}, nil
}

func stamp(tx *gorm.DB, identifier Identifier) error {
	if err := tx.Where("1 = 1").Delete(&storedb.ApplicationIdentifier{}).Error; err != nil {
		return fmt.Errorf("appversion: clearing previous stamp: %w", err)
	}
	row := storedb.ApplicationIdentifier{
		ID:    identifier.ID,
		Major: identifier.Major,
		Minor: identifier.Minor,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("appversion: writing stamp: %w", err)
	}
	return nil
}
