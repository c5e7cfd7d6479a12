package store

import "github.com/redis/go-redis/v9"

// claimDueScript atomically claims due pending items. Walking the due index
// and flipping each pending item to in_progress happens in one server-side
// step, so two concurrent callers always receive disjoint sets of items.
// Claimed items stay in the due index; the walk advances past them with an
// offset, so in-flight claims never count against the limit or mask pending
// items scored behind them. Claims are removed (or re-scored) when their
// outcome is recorded.
var claimDueScript = redis.NewScript(`
-- KEYS[1] = due-time index (sorted set)
-- ARGV[1] = max score (now, unix seconds)
-- ARGV[2] = limit
-- ARGV[3] = updated_at (RFC 3339)
-- ARGV[4] = item key prefix
--
-- Returns the ids of the items claimed.
local limit = tonumber(ARGV[2])
local claimed = {}
local offset = 0
while #claimed < limit do
  local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, limit)
  if #due == 0 then
    break
  end
  for _, id in ipairs(due) do
    if #claimed < limit then
      local key = ARGV[4] .. id
      if redis.call('HGET', key, 'status') == 'pending' then
        redis.call('HSET', key, 'status', 'in_progress', 'updated_at', ARGV[3])
        claimed[#claimed + 1] = id
      end
    end
  end
  offset = offset + #due
end
return claimed
`)

// updateStatusAtomicScript applies a status transition only if the current
// persisted status matches the expectation. The losing caller of a race gets
// 0 back and no side effects.
var updateStatusAtomicScript = redis.NewScript(`
-- KEYS[1] = item hash
-- KEYS[2] = due-time index
-- ARGV[1] = item id
-- ARGV[2] = expected status
-- ARGV[3] = new status
-- ARGV[4] = status notes ('' to leave unchanged)
-- ARGV[5] = updated_at (RFC 3339)
-- ARGV[6] = '1' to remove the item from the due index
--
-- Returns 1 if the transition applied, 0 otherwise.
local cur = redis.call('HGET', KEYS[1], 'status')
if cur ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[5])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'status_notes', ARGV[4])
end
if ARGV[6] == '1' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

// resolveAttemptScript folds one failed attempt into an item, conditional on
// the caller still holding the claim. Attempt consumption and the retry
// re-index happen in the same server-side step, so a worker crash can never
// strand a retry-eligible item outside the due index.
var resolveAttemptScript = redis.NewScript(`
-- KEYS[1] = item hash
-- KEYS[2] = due-time index
-- ARGV[1] = item id
-- ARGV[2] = outcome status
-- ARGV[3] = status notes ('' to leave unchanged)
-- ARGV[4] = updated_at (RFC 3339)
-- ARGV[5] = retry-at unix seconds ('' when the outcome is final)
-- ARGV[6] = retry-at RFC 3339 (new scheduled_time)
--
-- Returns 1 if the attempt resolved, 0 if the claim was already lost.
local cur = redis.call('HGET', KEYS[1], 'status')
if cur ~= 'in_progress' then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'status_notes', ARGV[3])
end
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'status', 'pending', 'scheduled_time', ARGV[6], 'updated_at', ARGV[4])
  redis.call('ZADD', KEYS[2], tonumber(ARGV[5]), ARGV[1])
else
  redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[4])
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

// cancelScript cancels an item unless it already reached a terminal state,
// removing it from the due index so it can never be claimed again. Items
// already claimed run to completion; cancellation only prevents future claims.
var cancelScript = redis.NewScript(`
-- KEYS[1] = item hash
-- KEYS[2] = due-time index
-- ARGV[1] = item id
-- ARGV[2] = status notes ('' to leave unchanged)
-- ARGV[3] = updated_at (RFC 3339)
--
-- Returns 1 if cancelled, 0 if the item was missing or already terminal.
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == false or cur == 'completed' or cur == 'cancelled' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'updated_at', ARGV[3])
if ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], 'status_notes', ARGV[2])
end
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)
