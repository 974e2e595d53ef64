package outbox

const timerStartedSchema = `{
  "type": "object",
  "title": "TimerStarted",
  "properties": {
    "timer_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_kind": {"type": "string"},
    "subtype": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "expected_at": {"type": "string"}
  },
  "required": ["timer_id", "user_id", "activity_kind", "started_at"],
  "additionalProperties": false
}`

const timerCompletedSchema = `{
  "type": "object",
  "title": "TimerCompleted",
  "properties": {
    "timer_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_kind": {"type": "string"},
    "subtype": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer"},
    "lateness_minutes": {"type": "integer"}
  },
  "required": ["timer_id", "user_id", "activity_kind", "started_at", "ended_at", "duration_seconds"],
  "additionalProperties": false
}`
