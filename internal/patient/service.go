package patient

import (
	"context"
	"fmt"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/keylock"
	"github.com/roach88/starcore/internal/temporal"
)

// DemographicsStore is the row store for demographics.
type DemographicsStore interface {
	coordinator.Store[Demographics]
}

// LinkStore is the row store for MRN links.
type LinkStore interface {
	coordinator.Store[MrnLink]
}

// VisitStore is the row store for hospital visits.
type VisitStore interface {
	coordinator.Store[HospitalVisit]
}

// Applied summarises what one message did. A merge applies two events and
// reports the retiring MRN's outcome.
type Applied struct {
	Seq        int64
	EventID    string
	Type       MessageType
	Mrn        string
	Kind       string
	Outcome    coordinator.Outcome
	Stale      bool
	Backfilled bool
}

// Service routes patient messages to the coordinators for each kind. The
// coordinators share one lock manager keyed by MRN (encounter for visits), so
// a merge excludes demographic updates for either MRN while it runs.
type Service struct {
	demographics *coordinator.Coordinator[Demographics]
	links        *coordinator.Coordinator[MrnLink]
	visits       *coordinator.Coordinator[HospitalVisit]
	linkStore    LinkStore
}

// NewService builds coordinators for every kind over the given stores.
// opts apply to all of them.
func NewService(demo DemographicsStore, links LinkStore, visits VisitStore, opts ...coordinator.Option) *Service {
	locks := keylock.New()
	return &Service{
		demographics: coordinator.New[Demographics](KindDemographics, locks, demo, opts...),
		links:        coordinator.New[MrnLink](KindMrnLink, locks, links, opts...),
		visits:       coordinator.New[HospitalVisit](KindHospitalVisit, locks, visits, opts...),
		linkStore:    links,
	}
}

// Apply applies one message.
func (s *Service) Apply(ctx context.Context, msg Message) (Applied, error) {
	id, err := msg.EventID()
	if err != nil {
		return Applied{}, coordinator.NewRejectedError(KindDemographics, msg.SourceID, err.Error())
	}
	out := Applied{Seq: msg.Seq, EventID: id, Type: msg.Type, Mrn: msg.Mrn}

	switch msg.Type {
	case TypeDemographics, TypeDelete:
		out.Kind = KindDemographics
		res, err := s.demographics.Apply(ctx, demographicsEvent{id: id, msg: msg})
		if err != nil {
			return out, err
		}
		out.Outcome, out.Stale, out.Backfilled = res.Outcome, res.Stale, res.Backfilled
		return out, nil

	case TypeMerge:
		out.Kind = KindMrnLink
		if msg.SurvivingMrn == "" || msg.SurvivingMrn == msg.Mrn {
			return out, coordinator.NewRejectedError(KindMrnLink, id, "merge needs a distinct surviving MRN")
		}
		retire, survive := mergeEvents(id, msg)
		// One lock scope: no link event on either MRN lands between the two.
		results, err := s.links.ApplyAll(ctx, survive, retire)
		if err != nil {
			return out, err
		}
		res := results[1]
		out.Outcome, out.Stale, out.Backfilled = res.Outcome, res.Stale, res.Backfilled
		return out, nil

	case TypeVisit:
		out.Kind = KindHospitalVisit
		if msg.Encounter == "" {
			return out, coordinator.NewRejectedError(KindHospitalVisit, id, "visit needs an encounter")
		}
		res, err := s.visits.Apply(ctx, visitEvent{id: id, msg: msg})
		if err != nil {
			return out, err
		}
		out.Outcome, out.Stale, out.Backfilled = res.Outcome, res.Stale, res.Backfilled
		return out, nil

	default:
		return out, coordinator.NewRejectedError(KindDemographics, id, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// LiveMrn follows merge links from mrn to the MRN currently live for the same
// person. An MRN with no link is its own live MRN.
func (s *Service) LiveMrn(ctx context.Context, mrn string) (string, error) {
	return ResolveLive(ctx, s.linkStore, mrn)
}

// maxLinkHops bounds link chains so a cycle cannot loop forever.
const maxLinkHops = 32

// ResolveLive follows MrnLink rows from mrn until an MRN links to itself or
// has no link.
func ResolveLive(ctx context.Context, links coordinator.Store[MrnLink], mrn string) (string, error) {
	current := mrn
	for hop := 0; hop < maxLinkHops; hop++ {
		row, err := links.Load(ctx, current)
		if err != nil {
			return "", fmt.Errorf("resolve live mrn %s: %w", mrn, err)
		}
		next, ok := liveOf(row)
		if !ok || next == current {
			return current, nil
		}
		current = next
	}
	return "", fmt.Errorf("resolve live mrn %s: link chain longer than %d", mrn, maxLinkHops)
}

func liveOf(row *temporal.Entity[MrnLink]) (string, bool) {
	if row == nil {
		return "", false
	}
	return row.Data.LiveMrn.Get()
}
