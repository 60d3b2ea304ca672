package pool

import "github.com/go-redis/redis/v8"

// stickySelectScript resolves a sticky binding atomically: a binding whose
// target key is cooling down is dropped, otherwise its TTL is refreshed as a
// side effect of the lookup.
//
// KEYS[1] = sticky binding, KEYS[2] = cooldown key prefix (completed with
// the bound key id inside the script)
// ARGV[1] = sticky TTL seconds
var stickySelectScript = redis.NewScript(`
local bound = redis.call('GET', KEYS[1])
if not bound then
  return false
end
if redis.call('EXISTS', KEYS[2] .. bound) == 1 then
  redis.call('DEL', KEYS[1])
  return false
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return bound
`)

// costWindowSumScript prunes entries outside the sliding window and sums the
// token counts encoded in the remaining members ("uuid:tokens").
//
// KEYS[1] = cost sorted set
// ARGV[1] = window start timestamp (exclusive prune bound)
var costWindowSumScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
local total = 0
for _, member in ipairs(members) do
  local sep = string.find(member, ':[^:]*$')
  if sep then
    total = total + (tonumber(string.sub(member, sep + 1)) or 0)
  end
end
return total
`)

// sessionReserveScript admits or rejects a session against the scope's
// active-session set in one step: prune idle entries, touch an existing
// member, otherwise admit only below the cap. Returns {admitted, count}.
//
// KEYS[1] = sessions sorted set
// ARGV[1] = now (unix seconds), ARGV[2] = idle cutoff timestamp,
// ARGV[3] = max sessions, ARGV[4] = session id, ARGV[5] = set TTL seconds
var sessionReserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZSCORE', KEYS[1], ARGV[4]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('EXPIRE', KEYS[1], ARGV[5])
  return {1, redis.call('ZCARD', KEYS[1])}
end
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return {0, count}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, count + 1}
`)
