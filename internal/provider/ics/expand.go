package ics

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/mycelian/calsync/internal/provider"
)

// expand turns parsed VEVENTs into remote events. Single events keep their
// UID as id. Each instance of a recurring event gets "UID/<instance key>" and
// takes the fields of a matching RECURRENCE-ID override; cancelled overrides
// and EXDATEs drop the instance.
func expand(events []feedEvent, from, to time.Time, log zerolog.Logger) []provider.RemoteEvent {
	overrides := make(map[string]map[string]feedEvent)
	var masters []feedEvent
	for _, fe := range events {
		if fe.recurrenceID == "" {
			masters = append(masters, fe)
			continue
		}
		if overrides[fe.ID] == nil {
			overrides[fe.ID] = make(map[string]feedEvent)
		}
		overrides[fe.ID][fe.recurrenceID] = fe
	}

	var out []provider.RemoteEvent
	for _, m := range masters {
		ov := overrides[m.ID]
		if m.cancelled {
			delete(overrides, m.ID)
			continue
		}
		if m.rule == "" {
			key := instanceKey(m.Start, m.AllDay)
			o, ok := ov[key]
			delete(ov, key)
			switch {
			case !ok:
				out = append(out, m.RemoteEvent)
			case !o.cancelled:
				re := o.RemoteEvent
				re.ID = m.ID
				out = append(out, re)
			}
			continue
		}

		instances, err := m.instances(from, to)
		if err != nil {
			log.Warn().Err(err).Str("external_id", m.ID).Str("rrule", m.rule).Msg("unexpandable rule, importing first instance only")
			out = append(out, m.RemoteEvent)
			continue
		}
		for _, inst := range instances {
			key := instanceKey(inst.Start, m.AllDay)
			if o, ok := ov[key]; ok {
				delete(ov, key)
				if o.cancelled {
					continue
				}
				inst = o.RemoteEvent
			}
			inst.ID = m.ID + "/" + key
			out = append(out, inst)
		}
	}

	// Overrides left over have no master in the feed, or were moved into the
	// window from an instance outside it.
	var orphans []provider.RemoteEvent
	for uid, byKey := range overrides {
		for key, o := range byKey {
			if o.cancelled || !o.Start.Before(to) || o.End.Before(from) {
				continue
			}
			re := o.RemoteEvent
			re.ID = uid + "/" + key
			orphans = append(orphans, re)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		if !orphans[i].Start.Equal(orphans[j].Start) {
			return orphans[i].Start.Before(orphans[j].Start)
		}
		return orphans[i].ID < orphans[j].ID
	})
	return append(out, orphans...)
}

// instances expands a recurring master over [from, to), capped at maxInstances.
func (fe feedEvent) instances(from, to time.Time) ([]provider.RemoteEvent, error) {
	loc := fe.loc
	if loc == nil {
		loc = time.UTC
	}
	opt, err := rrule.StrToROptionInLocation(strings.TrimPrefix(fe.rule, "RRULE:"), loc)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = fe.Start.In(loc)
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}
	var set rrule.Set
	set.RRule(r)
	for _, ex := range fe.exdates {
		set.ExDate(ex)
	}

	dur := fe.End.Sub(fe.Start)
	starts := set.Between(from.Add(-dur), to, true)
	if len(starts) > maxInstances {
		starts = starts[:maxInstances]
	}
	out := make([]provider.RemoteEvent, 0, len(starts))
	for _, st := range starts {
		inst := fe.RemoteEvent
		inst.Start = st.UTC()
		inst.End = inst.Start.Add(dur)
		out = append(out, inst)
	}
	return out, nil
}
