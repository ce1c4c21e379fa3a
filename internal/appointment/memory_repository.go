package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Ledger. It enforces the same
// no-overlap rule as the Postgres exclusion constraint.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	numbers      map[string]uuid.UUID
	keys         map[string]uuid.UUID
	events       []EventLog
	seq          int64
	now          func() time.Time

	faultMu sync.Mutex
	faults  []fault
}

type fault struct {
	op          string
	err         error
	afterCommit bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		numbers:      make(map[string]uuid.UUID),
		keys:         make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

// InjectFault makes the next call of op fail with err. With afterCommit the
// write is applied before the error is returned, like a lost commit ack.
func (r *MemoryRepository) InjectFault(op string, err error, afterCommit bool) {
	r.faultMu.Lock()
	defer r.faultMu.Unlock()
	r.faults = append(r.faults, fault{op: op, err: err, afterCommit: afterCommit})
}

func (r *MemoryRepository) takeFault(op string) *fault {
	r.faultMu.Lock()
	defer r.faultMu.Unlock()
	for i, f := range r.faults {
		if f.op == op {
			r.faults = append(r.faults[:i], r.faults[i+1:]...)
			return &f
		}
	}
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// All returns every stored appointment ordered by start.
func (r *MemoryRepository) All() []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, *a)
	}
	sortByStart(out)
	return out
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f := r.takeFault("get"); f != nil {
		return nil, f.err
	}
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListActiveInRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f := r.takeFault("list_active"); f != nil {
		return nil, f.err
	}
	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Conflicts(from, to) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) FindBySignature(ctx context.Context, sig Signature) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.appointments {
		if a.Status.Active() && a.signature() == sig {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[key]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *r.appointments[id]
	return &cp, nil
}

func (r *MemoryRepository) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && !a.ScheduledStart.Before(from) && a.ScheduledStart.Before(to) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.RequesterID == requesterID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) NextAppointmentNumber(ctx context.Context, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.takeFault("next_number"); f != nil {
		return "", f.err
	}
	r.seq++
	return FormatAppointmentNumber(at, r.seq), nil
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.takeFault("insert")
	if f != nil && !f.afterCommit {
		return nil, f.err
	}

	created, err := r.insertLocked(a)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return nil, f.err
	}
	return created, nil
}

// insertLocked must be called with mu held.
func (r *MemoryRepository) insertLocked(a *Appointment) (*Appointment, error) {
	if _, taken := r.numbers[a.AppointmentNumber]; taken {
		return nil, ErrDuplicateNumber
	}
	if a.IdempotencyKey != nil {
		if _, taken := r.keys[*a.IdempotencyKey]; taken {
			return nil, ErrDuplicateIdempotencyKey
		}
	}
	if a.Status.Active() {
		for _, existing := range r.appointments {
			if existing.PractitionerID == a.PractitionerID && existing.Conflicts(a.ScheduledStart, a.OccupiedUntil) {
				return nil, conflictWith(existing)
			}
		}
	}

	cp := *a
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := r.now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	r.appointments[cp.ID] = &cp
	r.numbers[cp.AppointmentNumber] = cp.ID
	if cp.IdempotencyKey != nil {
		r.keys[*cp.IdempotencyKey] = cp.ID
	}

	out := cp
	return &out, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.takeFault("update_status"); f != nil {
		return nil, f.err
	}

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if cancelReason != nil {
		reason := *cancelReason
		a.CancelReason = &reason
	}
	a.UpdatedAt = r.now().UTC()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ReplaceAppointment(ctx context.Context, originalID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, *Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.takeFault("replace"); f != nil {
		return nil, nil, f.err
	}

	original, ok := r.appointments[originalID]
	if !ok || original.Status != from {
		return nil, nil, ErrAppointmentNotFound
	}

	prevStatus, prevUpdated := original.Status, original.UpdatedAt
	original.Status = StatusRescheduled
	original.UpdatedAt = r.now().UTC()

	predecessor := original.ID
	replacement.PredecessorID = &predecessor
	created, err := r.insertLocked(replacement)
	if err != nil {
		original.Status, original.UpdatedAt = prevStatus, prevUpdated
		return nil, nil, err
	}

	cp := *original
	return &cp, created, nil
}

func (r *MemoryRepository) FindOverlaps(ctx context.Context) ([]Overlap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		if a.Status.Active() {
			active = append(active, *a)
		}
	}
	sortByStart(active)

	var out []Overlap
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if active[j].PractitionerID == active[i].PractitionerID &&
				active[i].Conflicts(active[j].ScheduledStart, active[j].OccupiedUntil) {
				out = append(out, Overlap{First: active[i], Second: active[j]})
			}
		}
	}
	return out, nil
}

// Seed stores appointments as-is, bypassing the no-overlap check. Used to
// stage corrupted ledgers for the auditor.
func (r *MemoryRepository) Seed(appts ...Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range appts {
		cp := a
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		r.appointments[cp.ID] = &cp
		r.numbers[cp.AppointmentNumber] = cp.ID
	}
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	r.events = append(r.events, ev)
	return nil
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].ScheduledStart.Equal(appts[j].ScheduledStart) {
			return appts[i].CreatedAt.Before(appts[j].CreatedAt)
		}
		return appts[i].ScheduledStart.Before(appts[j].ScheduledStart)
	})
}
