package subscription

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/recipient"
)

// Resolver turns (sender, category) plus caller-supplied overrides into the
// per-channel address lists the dispatcher sends to.
type Resolver struct {
	subs   Store
	recips recipient.Store
	logger logger.Logger
	now    func() time.Time
}

// NewResolver creates a resolver over the given stores.
func NewResolver(subs Store, recips recipient.Store, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard
	}
	return &Resolver{
		subs:   subs,
		recips: recips,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the resolver's clock. Used by tests to pin "now".
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve finds matching active subscriptions, filters them by delivery
// window, expands groups one level deep, maps recipients to channel-specific
// addresses, and unions in caller-supplied overrides.
//
// Failure modes are distinct: ErrNoSubscription when no subscription matched
// and no overrides were supplied at all, ErrNoRecipients when resolution ran
// but left every channel empty.
func (r *Resolver) Resolve(ctx context.Context, sender, category string, overrides map[string][]string) (map[string][]string, error) {
	subs, err := r.subs.ActiveBySenderCategory(ctx, sender, category)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStore, "look up subscriptions for sender=%s category=%s", sender, category)
	}

	hasOverrides := false
	for _, addrs := range overrides {
		if len(addrs) > 0 {
			hasOverrides = true
			break
		}
	}

	if len(subs) == 0 && !hasOverrides {
		return nil, errors.Newf(errors.ErrNoSubscription,
			"no subscription matches sender=%s category=%s and no explicit recipients supplied", sender, category)
	}

	now := r.now()
	byChannel := make(map[string][]int64)
	for _, sub := range subs {
		window, err := ParseWindow(sub.CronExpr)
		if err != nil {
			r.logger.Warn("Skipping subscription with invalid cron expression",
				"subscription", sub.ID, "cron", sub.CronExpr, "error", err)
			continue
		}
		if !window.Contains(now) {
			r.logger.Debug("Subscription outside delivery window",
				"subscription", sub.ID, "channel", sub.Channel, "cron", sub.CronExpr)
			continue
		}
		byChannel[sub.Channel] = append(byChannel[sub.Channel], sub.Recipient)
	}

	resolved := make(map[string][]string)
	for channel, ids := range byChannel {
		addrs, err := r.expandAddresses(ctx, channel, ids)
		if err != nil {
			return nil, err
		}
		if len(addrs) > 0 {
			resolved[channel] = addrs
		}
	}

	// Overrides are unioned in after subscription-derived entries; a channel
	// present only in overrides is still honored (ad-hoc delivery path).
	for channel, addrs := range overrides {
		resolved[channel] = mergeAddresses(resolved[channel], addrs)
		if len(resolved[channel]) == 0 {
			delete(resolved, channel)
		}
	}

	if len(resolved) == 0 {
		return nil, errors.Newf(errors.ErrNoRecipients,
			"resolution for sender=%s category=%s produced no deliverable recipients", sender, category)
	}

	return resolved, nil
}

// expandAddresses maps recipient ids to deduplicated channel addresses,
// expanding groups into their active direct members.
func (r *Resolver) expandAddresses(ctx context.Context, channel string, ids []int64) ([]string, error) {
	recips, err := r.recips.GetByIDs(ctx, dedupIDs(ids))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStore, "look up recipients for channel=%s", channel)
	}

	seen := make(map[int64]bool)
	var individuals []*recipient.Recipient
	for _, rec := range recips {
		if !rec.IsGroup {
			if !seen[rec.ID] {
				seen[rec.ID] = true
				individuals = append(individuals, rec)
			}
			continue
		}

		members, err := r.recips.GetGroupMembers(ctx, rec.ID)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrStore, "expand group %d for channel=%s", rec.ID, channel)
		}
		for _, member := range members {
			if member.IsGroup {
				// Membership is resolved one level deep only.
				r.logger.Warn("Dropping nested group from expansion",
					"group", rec.ID, "member", member.ID, "channel", channel)
				continue
			}
			if !seen[member.ID] {
				seen[member.ID] = true
				individuals = append(individuals, member)
			}
		}
	}

	var addrs []string
	addrSeen := make(map[string]bool)
	for _, rec := range individuals {
		addr, ok := rec.AddressFor(channel)
		if !ok {
			r.logger.Warn("Dropping recipient without channel address",
				"recipient", rec.ID, "name", rec.Name, "channel", channel)
			continue
		}
		if !addrSeen[addr] {
			addrSeen[addr] = true
			addrs = append(addrs, addr)
		}
	}

	sort.Strings(addrs)
	return addrs, nil
}

// mergeAddresses unions two address lists preserving the order of the first
// and deduplicating.
func mergeAddresses(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, addr := range base {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			merged = append(merged, addr)
		}
	}
	for _, addr := range extra {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			merged = append(merged, addr)
		}
	}
	return merged
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
