package appointment

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditOverlaps scans the ledger for pairs of active appointments of one
// practitioner whose occupied intervals overlap. Each pair found is logged
// and recorded as an event. A healthy ledger returns an empty slice.
func (s *Service) AuditOverlaps(ctx context.Context) ([]Overlap, error) {
	var overlaps []Overlap
	err := s.read(ctx, "audit", func(ctx context.Context) error {
		var err error
		overlaps, err = s.ledger.FindOverlaps(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, o := range overlaps {
		s.logger.Error("overlapping active appointments",
			zap.String("practitioner_id", o.First.PractitionerID.String()),
			zap.String("first_id", o.First.ID.String()),
			zap.Time("first_start", o.First.ScheduledStart),
			zap.String("second_id", o.Second.ID.String()),
			zap.Time("second_start", o.Second.ScheduledStart),
		)
		s.logEvent(ctx, uuid.Nil, EventLedgerOverlap, map[string]any{
			"practitioner_id": o.First.PractitionerID.String(),
			"first_id":        o.First.ID.String(),
			"second_id":       o.Second.ID.String(),
		})
	}
	return overlaps, nil
}
