// GoMailFW
// Copyright (C) 2016 The GoMailFW Authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/mailfw/gomailfw/config"
	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

// MessageError is one failed per-message mutation. The task survives it as
// long as the error threshold isn't crossed.
type MessageError struct {
	Repository string
	UID        uint32
	Err        error
}

func (m MessageError) Error() string {
	return fmt.Sprintf("repository %s, uid %d: %s", m.Repository, m.UID, m.Err)
}

// SyncReport summarizes one account pass.
type SyncReport struct {
	LeftAdded     int
	RightAdded    int
	LeftDeleted   int
	RightDeleted  int
	FlagUpdates   int
	Matched       int
	MessageErrors []MessageError
}

// SyncEngine brings the two repositories of one account to convergence. One
// engine instance runs one account; repositories may be shared with other
// engines, the connection slots arbitrate that.
type SyncEngine struct {
	account        string
	left           *Repository
	right          *Repository
	store          *UIDMapStore
	policy         string
	errorthreshold int
	dryrun         bool
	logger         *log.Logger
	e              *errors.Error

	// guards report.MessageErrors while both sides load concurrently
	errmu sync.Mutex
}

func NewSyncEngine(globalconfig *config.Config, accountconfig *config.AccountConfig, left *Repository, right *Repository, store *UIDMapStore, dryrun bool) *SyncEngine {
	logprefix := fmt.Sprintf("account: %s", accountconfig.Name)
	return &SyncEngine{
		account:        accountconfig.Name,
		left:           left,
		right:          right,
		store:          store,
		policy:         globalconfig.FlagsPolicy,
		errorthreshold: globalconfig.ErrorThreshold,
		dryrun:         dryrun,
		logger:         log.GetLoggerC(logprefix, globalconfig.LogLevel, globalconfig.DebugCategories),
		e:              errors.New(logprefix),
	}
}

// side bundles the per-repository working state of one pass.
type side struct {
	repo     *Repository
	messages *MessageSet
	// uids whose fetch failed; entries touching them are skipped, not
	// treated as deletions
	unknown map[uint32]bool
}

func (s *SyncEngine) Sync(ctx context.Context) (report *SyncReport, err error) {
	report = &SyncReport{}

	releaseLeft, err := s.left.Acquire(ctx)
	if err != nil {
		return report, s.e.E(err)
	}
	defer releaseLeft()

	releaseRight, err := s.right.Acquire(ctx)
	if err != nil {
		return report, s.e.E(err)
	}
	defer releaseRight()

	left := &side{repo: s.left, unknown: make(map[uint32]bool)}
	right := &side{repo: s.right, unknown: make(map[uint32]bool)}

	// The repositories stay open after the pass: they may be shared with
	// other accounts, the scheduler closes them when every task is done.
	err = s.bothSides(left, right, func(sd *side) error {
		return sd.repo.Driver().Connect(ctx)
	})
	if err != nil {
		return report, s.e.E(err)
	}

	err = s.bothSides(left, right, func(sd *side) error {
		return s.loadMessages(ctx, sd, report)
	})
	if err != nil {
		return report, s.e.E(err)
	}

	uidmap, err := s.store.Load(ctx)
	if err != nil {
		return report, s.e.E(err)
	}
	work := uidmap.Clone()
	gen := work.Generation + 1
	work.Generation = gen

	s.logger.Infof("left: %d messages, right: %d messages, mapped: %d",
		left.messages.Len(), right.messages.Len(), work.Len())

	err = s.reconcileMapped(ctx, work, gen, left, right, report)
	if err == nil {
		err = s.reconcileNew(ctx, work, gen, left, right, report)
	}

	// Successful mutations are already recorded in the working map;
	// persist them even when the pass was cut short by cancellation.
	// Threshold aborts skip the persist: a driver misbehaving that badly
	// taints the whole pass.
	if !s.dryrun && !errors.Is(err, errTooManyErrors) {
		if serr := s.store.Save(ctx, work); serr != nil {
			if err == nil {
				err = serr
			} else {
				s.logger.Errorf("persisting uid map also failed: %s", serr)
			}
		}
	}

	if err != nil {
		return report, s.e.E(err)
	}
	s.logger.Infof("done: +%dL +%dR -%dL -%dR ~%d flags, %d matched, %d message errors",
		report.LeftAdded, report.RightAdded, report.LeftDeleted, report.RightDeleted,
		report.FlagUpdates, report.Matched, len(report.MessageErrors))
	return report, nil
}

func (s *SyncEngine) bothSides(left *side, right *side, f func(sd *side) error) error {
	errc := make(chan error, 2)
	for _, sd := range []*side{left, right} {
		go func(sd *side) {
			errc <- f(sd)
		}(sd)
	}
	var first error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// loadMessages lists and fetches one side. A duplicate uid in the listing is
// a driver contract violation and kills the pass; a failed fetch only marks
// the uid unknown.
func (s *SyncEngine) loadMessages(ctx context.Context, sd *side, report *SyncReport) error {
	uids, err := sd.repo.Driver().ListUIDs(ctx)
	if err != nil {
		return err
	}

	seen := make(map[uint32]bool, len(uids))
	sd.messages = NewMessageSet()
	for _, uid := range uids {
		if seen[uid] {
			return errors.Integrityf("repository %s: uid %d listed twice", sd.repo.Name(), uid)
		}
		seen[uid] = true
	}

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := sd.repo.Driver().Fetch(ctx, uid)
		if err != nil {
			s.logger.Warnf("fetch of uid %d from %s failed: %s", uid, sd.repo.Name(), err)
			sd.unknown[uid] = true
			s.recordError(report, sd.repo.Name(), uid, err)
			continue
		}
		sd.messages.Add(m)
	}
	return nil
}

var errTooManyErrors = fmt.Errorf("too many message errors")

func (s *SyncEngine) recordError(report *SyncReport, reponame string, uid uint32, err error) {
	s.errmu.Lock()
	report.MessageErrors = append(report.MessageErrors, MessageError{reponame, uid, err})
	s.errmu.Unlock()
}

func (s *SyncEngine) checkThreshold(report *SyncReport) error {
	if len(report.MessageErrors) > s.errorthreshold {
		return fmt.Errorf("%w: %d errors with threshold %d", errTooManyErrors,
			len(report.MessageErrors), s.errorthreshold)
	}
	return nil
}

// reconcileMapped walks the known pairs: propagates flag changes, mirrors
// deletions, and drops pairs gone from both sides.
func (s *SyncEngine) reconcileMapped(ctx context.Context, work *UIDMap, gen int64, left *side, right *side, report *SyncReport) error {
	for _, e := range work.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkThreshold(report); err != nil {
			return err
		}
		if left.unknown[e.UIDLeft] || right.unknown[e.UIDRight] {
			continue
		}

		lm, lok := left.messages.Get(e.UIDLeft)
		rm, rok := right.messages.Get(e.UIDRight)

		switch {
		case lok && rok:
			s.reconcileFlags(ctx, work, gen, e, lm, rm, report)
		case lok && !rok:
			// Deleted on the right; mirror to the left. The mapping
			// survives a failed delete so the next pass retries.
			s.logger.DebugCf("engine", "uid %d deleted on %s, deleting %d on %s",
				e.UIDRight, s.right.Name(), e.UIDLeft, s.left.Name())
			if s.dryrun {
				report.LeftDeleted++
				continue
			}
			if err := s.left.Driver().Delete(ctx, e.UIDLeft); err != nil {
				s.recordError(report, s.left.Name(), e.UIDLeft, err)
				continue
			}
			report.LeftDeleted++
			work.Remove(e)
		case !lok && rok:
			s.logger.DebugCf("engine", "uid %d deleted on %s, deleting %d on %s",
				e.UIDLeft, s.left.Name(), e.UIDRight, s.right.Name())
			if s.dryrun {
				report.RightDeleted++
				continue
			}
			if err := s.right.Driver().Delete(ctx, e.UIDRight); err != nil {
				s.recordError(report, s.right.Name(), e.UIDRight, err)
				continue
			}
			report.RightDeleted++
			work.Remove(e)
		default:
			// Gone from both sides, nothing to mirror.
			work.Remove(e)
		}
	}
	return nil
}

func (s *SyncEngine) reconcileFlags(ctx context.Context, work *UIDMap, gen int64, e *MapEntry, lm *Message, rm *Message, report *SyncReport) {
	stored := ParseFlags(e.Flags)
	leftChanged := !lm.Flags.Equal(stored)
	rightChanged := !rm.Flags.Equal(stored)

	if !leftChanged && !rightChanged {
		return
	}

	var want Flags
	switch {
	case leftChanged && !rightChanged:
		want = lm.Flags
	case rightChanged && !leftChanged:
		want = rm.Flags
	default:
		// Both sides diverged since the last pass. Under "newer" the
		// side with the younger generation stamp wins; a tie and the
		// "union" policy merge.
		switch {
		case s.policy == "newer" && e.LeftGen > e.RightGen:
			want = lm.Flags
		case s.policy == "newer" && e.RightGen > e.LeftGen:
			want = rm.Flags
		default:
			want = lm.Flags.Union(rm.Flags)
		}
	}

	if s.dryrun {
		report.FlagUpdates++
		return
	}

	if !lm.Flags.Equal(want) {
		if err := s.left.Driver().SetFlags(ctx, e.UIDLeft, want); err != nil {
			s.recordError(report, s.left.Name(), e.UIDLeft, err)
			return
		}
		report.FlagUpdates++
	}
	if !rm.Flags.Equal(want) {
		if err := s.right.Driver().SetFlags(ctx, e.UIDRight, want); err != nil {
			s.recordError(report, s.right.Name(), e.UIDRight, err)
			return
		}
		report.FlagUpdates++
	}

	e.Flags = want.String()
	e.LeftGen = gen
	e.RightGen = gen
}

// reconcileNew handles messages the uid map doesn't know: equal bodies on
// both sides are paired in place, the rest are copied across.
func (s *SyncEngine) reconcileNew(ctx context.Context, work *UIDMap, gen int64, left *side, right *side, report *SyncReport) error {
	// Hashes copied during this pass. A body is copied at most once per
	// pass even when it appears under several uids.
	added := make(map[string]bool)

	for _, uid := range left.messages.UIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkThreshold(report); err != nil {
			return err
		}
		if _, mapped := work.ByLeft(uid); mapped {
			continue
		}
		lm, _ := left.messages.Get(uid)

		if rm, ok := right.messages.GetByHash(lm.BodyHash); ok {
			if _, mapped := work.ByRight(rm.UID); !mapped {
				if err := s.matchInPlace(ctx, work, gen, lm, rm, report); err != nil {
					continue
				}
				report.Matched++
			}
			// The body already lives on the right either way; never
			// create a second copy of it.
			continue
		}

		if added[lm.BodyHash] {
			continue
		}
		s.logger.DebugCf("engine", "copying uid %d to %s", uid, s.right.Name())
		if s.dryrun {
			report.RightAdded++
			added[lm.BodyHash] = true
			continue
		}
		newuid, err := s.right.Driver().Add(ctx, lm)
		if err != nil {
			s.recordError(report, s.right.Name(), lm.UID, err)
			continue
		}
		report.RightAdded++
		added[lm.BodyHash] = true
		work.Set(&MapEntry{
			UIDLeft:  lm.UID,
			UIDRight: newuid,
			Flags:    lm.Flags.String(),
			LeftGen:  gen,
			RightGen: gen,
		})
	}

	for _, uid := range right.messages.UIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkThreshold(report); err != nil {
			return err
		}
		if _, mapped := work.ByRight(uid); mapped {
			continue
		}
		rm, _ := right.messages.Get(uid)
		if _, ok := left.messages.GetByHash(rm.BodyHash); ok {
			// Unmapped pairs were matched in the first loop; a hit here
			// means the body is already on the left under another uid.
			continue
		}
		if added[rm.BodyHash] {
			continue
		}
		s.logger.DebugCf("engine", "copying uid %d to %s", uid, s.left.Name())
		if s.dryrun {
			report.LeftAdded++
			added[rm.BodyHash] = true
			continue
		}
		newuid, err := s.left.Driver().Add(ctx, rm)
		if err != nil {
			s.recordError(report, s.left.Name(), rm.UID, err)
			continue
		}
		report.LeftAdded++
		added[rm.BodyHash] = true
		work.Set(&MapEntry{
			UIDLeft:  newuid,
			UIDRight: rm.UID,
			Flags:    rm.Flags.String(),
			LeftGen:  gen,
			RightGen: gen,
		})
	}
	return nil
}

// matchInPlace pairs two existing copies of the same body without moving any
// mail. Their flag sets are merged.
func (s *SyncEngine) matchInPlace(ctx context.Context, work *UIDMap, gen int64, lm *Message, rm *Message, report *SyncReport) error {
	merged := lm.Flags.Union(rm.Flags)

	if !s.dryrun {
		if !lm.Flags.Equal(merged) {
			if err := s.left.Driver().SetFlags(ctx, lm.UID, merged); err != nil {
				s.recordError(report, s.left.Name(), lm.UID, err)
				return err
			}
		}
		if !rm.Flags.Equal(merged) {
			if err := s.right.Driver().SetFlags(ctx, rm.UID, merged); err != nil {
				s.recordError(report, s.right.Name(), rm.UID, err)
				return err
			}
		}
	}

	work.Set(&MapEntry{
		UIDLeft:  lm.UID,
		UIDRight: rm.UID,
		Flags:    merged.String(),
		LeftGen:  gen,
		RightGen: gen,
	})
	return nil
}
