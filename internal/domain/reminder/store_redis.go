package reminder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ehr/notify/internal/platform/apperr"
)

const (
	redisDueKey    = "reminder:due"
	redisJobPrefix = "reminder:job:"
)

// storeRedis keeps each job in a hash and indexes live jobs in a sorted set
// scored by the time the job next needs attention: its fire time while
// scheduled, its lease expiry while claimed.
type storeRedis struct {
	client *redis.Client
}

func NewStoreRedis(client *redis.Client) JobStore { return &storeRedis{client: client} }

func jobKey(id uuid.UUID) string { return redisJobPrefix + id.String() }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// claimScript moves due members to their lease expiry and marks them claimed.
// KEYS[1] due set; ARGV: now, lease expiry, limit, job key prefix.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	local key = ARGV[4] .. id
	redis.call('ZADD', KEYS[1], ARGV[2], id)
	redis.call('HSET', key, 'status', 'claimed', 'updated_at', ARGV[1])
	redis.call('HINCRBY', key, 'attempts', 1)
end
return ids
`)

// settleScript finalizes a claimed job if its fire time is unchanged.
// KEYS[1] due set, KEYS[2] job hash; ARGV: fire_at, status, now, member.
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'status') ~= 'claimed' then return 0 end
if redis.call('HGET', KEYS[2], 'fire_at') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[2], 'status', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[1], ARGV[4])
return 1
`)

// supersedeScript flips a live job to superseded.
// KEYS[1] due set, KEYS[2] job hash; ARGV: now, member.
var supersedeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[2], 'status')
if status ~= 'scheduled' and status ~= 'claimed' then return 0 end
redis.call('HSET', KEYS[2], 'status', 'superseded', 'updated_at', ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[2])
return 1
`)

func (s *storeRedis) Upsert(ctx context.Context, job *Job) error {
	key := jobKey(job.AppointmentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", millis(job.UpdatedAt))
		pipe.HSet(ctx, key,
			"fire_at", millis(job.FireAt),
			"status", string(StatusScheduled),
			"attempts", 0,
			"updated_at", millis(job.UpdatedAt),
		)
		pipe.ZAdd(ctx, redisDueKey, redis.Z{
			Score:  float64(job.FireAt.UnixMilli()),
			Member: job.AppointmentID.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert reminder job: %w", err)
	}
	return nil
}

func (s *storeRedis) Supersede(ctx context.Context, appointmentID uuid.UUID, now time.Time) (bool, error) {
	n, err := supersedeScript.Run(ctx, s.client,
		[]string{redisDueKey, jobKey(appointmentID)},
		millis(now), appointmentID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("supersede reminder job: %w", err)
	}
	return n == 1, nil
}

func (s *storeRedis) Get(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(appointmentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get reminder job: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperr.NotFound("reminder job")
	}
	return decodeJob(appointmentID, fields)
}

func (s *storeRedis) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	ids, err := claimScript.Run(ctx, s.client, []string{redisDueKey},
		millis(now), millis(now.Add(lease)), limit, redisJobPrefix).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim reminder jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, redisJobPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load claimed reminder jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for i, id := range ids {
		appointmentID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse reminder job id %q: %w", id, err)
		}
		j, err := decodeJob(appointmentID, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *storeRedis) Settle(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time, status Status, now time.Time) (bool, error) {
	n, err := settleScript.Run(ctx, s.client,
		[]string{redisDueKey, jobKey(appointmentID)},
		millis(fireAt), string(status), millis(now), appointmentID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("settle reminder job: %w", err)
	}
	return n == 1, nil
}

func decodeJob(id uuid.UUID, fields map[string]string) (*Job, error) {
	j := &Job{AppointmentID: id, Status: Status(fields["status"])}
	var err error
	if j.FireAt, err = parseMillis(fields["fire_at"]); err != nil {
		return nil, fmt.Errorf("decode reminder job %s: fire_at: %w", id, err)
	}
	if j.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode reminder job %s: created_at: %w", id, err)
	}
	if j.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode reminder job %s: updated_at: %w", id, err)
	}
	if v := fields["attempts"]; v != "" {
		if j.Attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode reminder job %s: attempts: %w", id, err)
		}
	}
	return j, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
