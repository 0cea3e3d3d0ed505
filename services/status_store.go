package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-pass/internal/clock"
	"ticket-pass/internal/status"
	"ticket-pass/models"
)

// transitionScript moves a ticket one step forward. Re-applying the
// current state is a no-op, except that a scan carrying a presentation
// other than the one recorded is refused. Returns {previous, changed}
// where changed is 1, 0 for a no-op, or -1 for a refused transition.
const transitionScript = `
local current = redis.call('HGET', KEYS[1], 'status') or 'pending'
local rank = {pending = 0, scanned_not_validated = 1, validated = 2}
local target = ARGV[1]
if current == target then
	if ARGV[6] ~= '' and redis.call('HGET', KEYS[1], 'presented') ~= ARGV[6] then
		return {current, -1}
	end
	return {current, 0}
end
if rank[current] == nil or rank[target] ~= rank[current] + 1 then
	return {current, -1}
end
redis.call('HSET', KEYS[1], 'status', target, 'updated_at', ARGV[2], 'gate_id', ARGV[3], 'scan_id', ARGV[4])
if ARGV[6] ~= '' then
	redis.call('HSET', KEYS[1], 'presented', ARGV[6])
end
if tonumber(ARGV[5]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[5])
end
return {current, 1}
`

// Transition is the result of a status change attempt.
type Transition struct {
	From    models.ValidationState
	To      models.ValidationState
	Changed bool
}

type StatusStore struct {
	Redis redis.Cmdable
	TTL   time.Duration
	Clock clock.Clock
}

func NewStatusStore(redisClient redis.Cmdable, ttl time.Duration) *StatusStore {
	return &StatusStore{Redis: redisClient, TTL: ttl, Clock: clock.Real()}
}

func statusKey(ticketID string) string {
	return fmt.Sprintf("ticket:status:%s", ticketID)
}

// GetStatus returns pending for tickets the gate has never seen.
func (s *StatusStore) GetStatus(ctx context.Context, ticketID string) (models.StatusReport, error) {
	fields, err := s.Redis.HGetAll(ctx, statusKey(ticketID)).Result()
	if err != nil {
		return models.StatusReport{}, err
	}

	report := models.StatusReport{
		TicketID: ticketID,
		Status:   models.StatusPending,
	}
	if len(fields) == 0 {
		return report, nil
	}

	report.Status = models.ValidationState(fields["status"])
	if !report.Status.Valid() {
		return models.StatusReport{}, fmt.Errorf("status: stored state %q for %s is unknown", fields["status"], ticketID)
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		report.UpdatedAt = time.UnixMilli(ms).UTC()
	}

	report.Metadata = map[string]string{}
	for _, k := range []string{"gate_id", "scan_id"} {
		if v := fields[k]; v != "" {
			report.Metadata[k] = v
		}
	}
	return report, nil
}

// MarkScanned records a scan of presentation, the signature or barcode
// read that was accepted. While the ticket is scanned_not_validated only
// the same presentation is accepted again.
func (s *StatusStore) MarkScanned(ctx context.Context, ticketID, gateID, scanID, presentation string) (Transition, error) {
	if presentation == "" {
		return Transition{}, fmt.Errorf("status: scan of %s has no presentation", ticketID)
	}
	return s.transition(ctx, ticketID, models.StatusScannedNotValidated, gateID, scanID, presentation)
}

func (s *StatusStore) MarkValidated(ctx context.Context, ticketID, gateID, scanID string) (Transition, error) {
	return s.transition(ctx, ticketID, models.StatusValidated, gateID, scanID, "")
}

// Reset forgets a ticket's gate history.
func (s *StatusStore) Reset(ctx context.Context, ticketID string) error {
	return s.Redis.Del(ctx, statusKey(ticketID)).Err()
}

func (s *StatusStore) transition(ctx context.Context, ticketID string, target models.ValidationState, gateID, scanID, presentation string) (Transition, error) {
	result, err := s.Redis.Eval(ctx, transitionScript, []string{statusKey(ticketID)},
		string(target),
		strconv.FormatInt(s.Clock.Now().UnixMilli(), 10),
		gateID,
		scanID,
		strconv.FormatInt(int64(s.TTL/time.Second), 10),
		presentation,
	).Slice()
	if err != nil {
		return Transition{}, err
	}
	if len(result) != 2 {
		return Transition{}, fmt.Errorf("status: unexpected script reply %v", result)
	}

	from, _ := result[0].(string)
	changed, _ := result[1].(int64)

	t := Transition{From: models.ValidationState(from), To: target, Changed: changed == 1}
	if changed < 0 {
		return t, fmt.Errorf("%w: %s -> %s", status.ErrInvalidTransition, from, target)
	}
	return t, nil
}
