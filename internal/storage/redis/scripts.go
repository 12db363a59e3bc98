package redis

const (
	// createConfigScript writes the default config only if none exists
	createConfigScript = `
local config_key = KEYS[1]     -- screentime:config:{profileID}

if redis.call('EXISTS', config_key) == 1 then
  return 'EXISTS'
end

redis.call('HSET', config_key,
  'profile_id', ARGV[1],
  'weekday_limit_minutes', ARGV[2],
  'weekend_limit_minutes', ARGV[3],
  'reset_hour', ARGV[4],
  'educational_exempt', ARGV[5],
  'time_zone', ARGV[6],
  'created_at', ARGV[7],
  'updated_at', ARGV[7]
)

return 'CREATED'
`

	// incrementBalanceScript atomically creates or increments a daily balance
	incrementBalanceScript = `
local balance_key = KEYS[1]    -- screentime:balance:{profileID}:{day}

local profile_id = ARGV[1]
local day = ARGV[2]
local field = ARGV[3]          -- used_seconds or educational_seconds
local seconds = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

if redis.call('EXISTS', balance_key) == 0 then
  redis.call('HSET', balance_key,
    'profile_id', profile_id,
    'day', day,
    'used_seconds', 0,
    'educational_seconds', 0,
    'unlimited_override', 0
  )
end

redis.call('HINCRBY', balance_key, field, seconds)
redis.call('EXPIRE', balance_key, ttl)

return 'OK'
`

	// applyGrantScript atomically credits time back or sets the unlimited
	// override. A negative credit means unlimited.
	applyGrantScript = `
local balance_key = KEYS[1]    -- screentime:balance:{profileID}:{day}

local profile_id = ARGV[1]
local day = ARGV[2]
local credit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

if redis.call('EXISTS', balance_key) == 0 then
  redis.call('HSET', balance_key,
    'profile_id', profile_id,
    'day', day,
    'used_seconds', 0,
    'educational_seconds', 0,
    'unlimited_override', 0
  )
end

if credit < 0 then
  redis.call('HSET', balance_key, 'unlimited_override', 1)
else
  local used = tonumber(redis.call('HGET', balance_key, 'used_seconds')) or 0
  local remaining = used - credit
  if remaining < 0 then
    remaining = 0
  end
  redis.call('HSET', balance_key, 'used_seconds', remaining)
end

redis.call('EXPIRE', balance_key, ttl)

return 'OK'
`

	// startSessionScript ends the profile's active session, if any, and
	// registers the new session as active. Returns the superseded id or ''.
	startSessionScript = `
local active_key = KEYS[1]     -- screentime:sessions:active:{profileID}
local session_key = KEYS[2]    -- screentime:session:{sessionID}
local index_key = KEYS[3]      -- screentime:sessions:profile:{profileID}

local session_id = ARGV[1]
local started_at = ARGV[7]
local score = ARGV[8]
local session_prefix = ARGV[9]
local ttl = tonumber(ARGV[10])

local superseded = ''
local previous = redis.call('GET', active_key)
if previous and previous ~= session_id then
  local previous_key = session_prefix .. previous
  local ended_at = redis.call('HGET', previous_key, 'ended_at')
  if ended_at == '' then
    redis.call('HSET', previous_key, 'ended_at', started_at, 'paused_at', '')
    redis.call('EXPIRE', previous_key, ttl)
    superseded = previous
  end
end

redis.call('HSET', session_key,
  'id', session_id,
  'profile_id', ARGV[2],
  'title_id', ARGV[3],
  'device_id', ARGV[4],
  'device_type', ARGV[5],
  'is_educational', ARGV[6],
  'started_at', started_at,
  'last_heartbeat_at', started_at,
  'ended_at', '',
  'paused_at', '',
  'total_seconds', 0
)
redis.call('SET', active_key, session_id)
redis.call('ZADD', index_key, score, session_id)

return superseded
`

	// recordHeartbeatScript applies one heartbeat to an active session
	recordHeartbeatScript = `
local session_key = KEYS[1]    -- screentime:session:{sessionID}

if redis.call('EXISTS', session_key) == 0 then
  return 'MISSING'
end
if redis.call('HGET', session_key, 'ended_at') ~= '' then
  return 'ENDED'
end

redis.call('HSET', session_key,
  'last_heartbeat_at', ARGV[1],
  'paused_at', ARGV[3]
)
redis.call('HINCRBY', session_key, 'total_seconds', tonumber(ARGV[2]))

return 'OK'
`

	// endSessionScript marks a session ended and clears the active pointer
	// if it still points at this session. Idempotent.
	endSessionScript = `
local session_key = KEYS[1]    -- screentime:session:{sessionID}
local active_key = KEYS[2]     -- screentime:sessions:active:{profileID}

local ended_at = ARGV[1]
local session_id = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call('EXISTS', session_key) == 0 then
  return 'MISSING'
end

if redis.call('HGET', session_key, 'ended_at') == '' then
  redis.call('HSET', session_key, 'ended_at', ended_at, 'paused_at', '')
end

if redis.call('GET', active_key) == session_id then
  redis.call('DEL', active_key)
end
redis.call('EXPIRE', session_key, ttl)

return 'OK'
`
)
