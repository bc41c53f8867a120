package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// load restores the persisted slice of the session. It runs before the loop
// starts, so it writes st directly.
func (s *Session) load(ctx context.Context, st *state) error {
	var onboarded bool
	if _, err := s.store.GetSetting(ctx, store.KeyOnboarded, &onboarded); err != nil {
		return err
	}
	st.operator.Onboarded = onboarded

	var lang string
	if _, err := s.store.GetSetting(ctx, store.KeyLanguage, &lang); err != nil {
		return err
	}
	st.operator.Language = s.normalizeLanguage(lang)

	var tier model.Tier
	found, err := s.store.GetSetting(ctx, store.KeyTier, &tier)
	if err != nil {
		return err
	}
	if found && tier != "" {
		st.operator.Tier = tier
	}

	var wallet model.Wallet
	found, err = s.store.GetSetting(ctx, store.KeyWallet, &wallet)
	if err != nil {
		return err
	}
	if found {
		if wallet.Entries == nil {
			wallet.Entries = []model.LedgerEntry{}
		}
		st.wallet = wallet
	}
	return nil
}

// normalizeLanguage maps a stored or requested tag onto the closest
// configured language. Unknown or empty tags fall back to the first one.
func (s *Session) normalizeLanguage(lang string) string {
	if lang == "" {
		return s.languages[0].String()
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return s.languages[0].String()
	}
	_, i, conf := s.matcher.Match(tag)
	if conf == language.No {
		return s.languages[0].String()
	}
	return s.languages[i].String()
}

func (s *Session) languageIndex(lang string) int {
	for i, t := range s.languages {
		if t.String() == lang {
			return i
		}
	}
	return 0
}

// pulse is the presence.Source.
func (s *Session) pulse(ctx context.Context) (model.PresencePulse, bool) {
	var (
		p      model.PresencePulse
		online bool
	)
	err := s.do(ctx, "pulse", func(st *state) error {
		online = st.machine.Duty() == lifecycle.Online
		p = s.pulseOf(st)
		return nil
	})
	return p, err == nil && online
}

func (s *Session) pulseOf(st *state) model.PresencePulse {
	p := model.PresencePulse{
		OperatorID: st.operator.OperatorID,
		Online:     st.presence.Online,
		At:         s.now(),
	}
	if st.presence.Location != nil {
		loc := *st.presence.Location
		p.Location = &loc
	}
	return p
}

func (s *Session) heartbeatSent(p model.PresencePulse) {
	s.post("heartbeat_sent", func(st *state) error {
		st.presence.LastHeartbeat = p.At
		return nil
	})
}

// Sweep drops offers whose expiry has passed and prunes stale notices.
func (s *Session) Sweep(ctx context.Context) error {
	return s.do(ctx, "sweep", func(st *state) error {
		s.sweep(st)
		return nil
	})
}

func (s *Session) sweep(st *state) {
	now := s.now()
	kept := st.feed[:0]
	for _, t := range st.feed {
		if t.ExpiredAt(now) {
			st.expired[t.ID] = true
			s.record(st, model.LevelInfo, "offer_expired", t.ID, "offer expired")
			continue
		}
		kept = append(kept, t)
	}
	st.feed = kept

	notices := st.notices[:0]
	for _, n := range st.notices {
		if n.ExpiresAt.After(now) {
			notices = append(notices, n)
		}
	}
	st.notices = notices
}

func (s *Session) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Sweep(ctx)
		}
	}
}

// feedSink applies live feed events on the loop. Events arrive on the
// subscription's goroutine and are posted without waiting.
type feedSink struct {
	s *Session
}

func (f feedSink) OfferInserted(t model.Task) {
	f.s.post("offer_inserted", func(st *state) error {
		f.s.offerChanged(st, t, true)
		return nil
	})
}

func (f feedSink) OfferUpdated(t model.Task) {
	f.s.post("offer_updated", func(st *state) error {
		f.s.offerChanged(st, t, false)
		return nil
	})
}

func (f feedSink) WalletChanged(w model.Wallet) {
	f.s.post("wallet_changed", func(st *state) error {
		wallet := w.Clone()
		if wallet.Entries == nil {
			wallet.Entries = []model.LedgerEntry{}
		}
		for _, e := range st.wallet.Entries {
			if e.Provisional && st.unresolved(e.TaskID) {
				wallet.Entries = append(wallet.Entries, e)
			}
		}
		st.wallet = wallet
		f.s.persist(f.s.ctx, store.KeyWallet, wallet)
		return nil
	})
}

func (f feedSink) FeedFailed(err error) {
	f.s.post("feed_lost", func(st *state) error {
		f.s.record(st, model.LevelWarn, "feed_lost", "", fmt.Sprintf("live feed dropped: %v", err))
		return nil
	})
	f.s.escalate(err)
}

// offerChanged merges a pushed offer into the feed. Offers that are taken,
// expired or already being worked on leave the feed; inserts while off duty
// are ignored.
func (s *Session) offerChanged(st *state, t model.Task, insert bool) {
	if st.machine.Duty() != lifecycle.Online {
		return
	}
	_, present := st.findOffer(t.ID)
	gone := t.Phase != model.PhaseOffered ||
		(t.AssignedTo != "" && t.AssignedTo != s.cfg.OperatorID) ||
		t.ExpiredAt(s.now())
	switch {
	case gone || st.busy(t.ID):
		if present {
			st.removeOffer(t.ID)
		}
	case insert || present:
		st.upsertOffer(t.Clone())
	}
}
